package signature

import "testing"

func TestNormalizeCollapsesVariants(t *testing.T) {
	t.Parallel()

	base := Normalize("Earn $500 daily! Write to @crypto_helper or visit https://scam.example/ref?id=123")
	variant := Normalize("earn $900 DAILY!!! write to @other_helper or visit https://scam.example/ref?id=777")
	if base == "" {
		t.Fatal("normalized text is empty")
	}
	if base != variant {
		t.Fatalf("variants did not collapse:\n%q\n%q", base, variant)
	}
}

func TestNormalizeEmptyOnFillerOnly(t *testing.T) {
	t.Parallel()

	if got := Normalize("123 @someone https://x.example 456"); got != "" {
		t.Fatalf("Normalize() = %q, want empty", got)
	}
}

func TestSimhashLocality(t *testing.T) {
	t.Parallel()

	a := Simhash(Normalize("join our amazing trading group for guaranteed daily profit signals today"))
	b := Simhash(Normalize("join our amazing trading group for guaranteed daily profit signals now"))
	c := Simhash(Normalize("the weather in the mountains is lovely this time of year"))

	near := HammingDistance(a, b)
	far := HammingDistance(a, c)
	if near > fuzzyMaxDistance {
		t.Fatalf("near-duplicate distance = %d, want <= %d", near, fuzzyMaxDistance)
	}
	if far <= fuzzyMaxDistance {
		t.Fatalf("unrelated distance = %d, want > %d", far, fuzzyMaxDistance)
	}
	if near >= far {
		t.Fatalf("distances not ordered: near=%d far=%d", near, far)
	}
}

func TestComputeStable(t *testing.T) {
	t.Parallel()

	text := "Limited offer! DM @seller_bot or call 555-0101"
	first := Compute(text)
	second := Compute(text)
	if first != second {
		t.Fatalf("Compute() not deterministic:\n%+v\n%+v", first, second)
	}
	if first.Exact == first.Normalized {
		t.Fatal("exact and normalized hashes collide")
	}
}

func TestStructuralHashIgnoresPayload(t *testing.T) {
	t.Parallel()

	a := Compute("Buy now at https://a.example contact @seller_one price 100")
	b := Compute("Sell fast at https://b.example message @buyer_two price 900")
	if a.Structural != b.Structural {
		t.Fatal("same scaffold produced different structural hashes")
	}

	c := Compute("just a plain sentence without any links at all here")
	if a.Structural == c.Structural {
		t.Fatal("different scaffolds collided")
	}
}
