package similarity

import "testing"

func TestClientConfigCarriesAuth(t *testing.T) {
	t.Parallel()

	got := clientConfig(IndexConfig{
		Host:   "qdrant.internal",
		Port:   6334,
		APIKey: "secret",
		UseTLS: true,
	})
	if got.Host != "qdrant.internal" || got.Port != 6334 {
		t.Fatalf("address = %s:%d", got.Host, got.Port)
	}
	if got.APIKey != "secret" || !got.UseTLS {
		t.Fatalf("auth not carried: key=%q tls=%v", got.APIKey, got.UseTLS)
	}
}
