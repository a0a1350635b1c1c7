package signature

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vigilbot/vigil/internal/db"
)

type fakeSignatureStore struct {
	byExact      map[string]*db.SpamSignature
	byNormalized map[string]*db.SpamSignature
	byStructural map[string][]*db.SpamSignature
	upserted     []*db.SpamSignature
	statusSet    map[string]string
}

func newFakeSignatureStore() *fakeSignatureStore {
	return &fakeSignatureStore{
		byExact:      map[string]*db.SpamSignature{},
		byNormalized: map[string]*db.SpamSignature{},
		byStructural: map[string][]*db.SpamSignature{},
		statusSet:    map[string]string{},
	}
}

func (f *fakeSignatureStore) GetSignatureByExact(_ context.Context, h string) (*db.SpamSignature, error) {
	if sig, ok := f.byExact[h]; ok {
		return sig, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeSignatureStore) GetSignatureByNormalized(_ context.Context, h string) (*db.SpamSignature, error) {
	if sig, ok := f.byNormalized[h]; ok {
		return sig, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeSignatureStore) GetSignaturesByStructural(_ context.Context, h string, _ int) ([]*db.SpamSignature, error) {
	return f.byStructural[h], nil
}

func (f *fakeSignatureStore) UpsertSignature(_ context.Context, sig *db.SpamSignature, _ int64) (*db.SpamSignature, error) {
	f.upserted = append(f.upserted, sig)
	if existing, ok := f.byNormalized[sig.NormalizedHash]; ok {
		existing.Confirmations++
		return existing, nil
	}
	return sig, nil
}

func (f *fakeSignatureStore) SetSignatureStatus(_ context.Context, normalizedHash, status string, expiresAt time.Time) error {
	f.statusSet[normalizedHash] = status
	if sig, ok := f.byNormalized[normalizedHash]; ok {
		sig.Status = status
		sig.ExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeSignatureStore) DeleteExpiredSignatures(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeSignatureStore) add(text, status string) *db.SpamSignature {
	hashes := Compute(text)
	exact := hashes.Exact
	sig := &db.SpamSignature{
		NormalizedHash: hashes.Normalized,
		ExactHash:      &exact,
		FuzzyHash:      hashes.Fuzzy,
		StructuralHash: hashes.Structural,
		Status:         status,
		SampleText:     text,
	}
	f.byExact[hashes.Exact] = sig
	f.byNormalized[hashes.Normalized] = sig
	f.byStructural[hashes.Structural] = append(f.byStructural[hashes.Structural], sig)
	return sig
}

func TestCheckLayers(t *testing.T) {
	t.Parallel()

	const spam = "Earn $500 daily! Write to @crypto_helper or visit https://scam.example/ref?id=123"

	fake := newFakeSignatureStore()
	fake.add(spam, db.SignatureStatusConfirmed)
	store := NewStore(fake)
	ctx := context.Background()

	match, err := store.Check(ctx, spam)
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Layer != LayerExact {
		t.Fatalf("match = %+v, want exact layer", match)
	}
	if !match.Direct() {
		t.Fatal("confirmed exact hit must be direct")
	}

	// Same template, different digits and handles.
	variant := "Earn $900 daily! Write to @other_helper or visit https://scam.example/ref?id=777"
	match, err = store.Check(ctx, variant)
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Layer != LayerNormalized {
		t.Fatalf("match = %+v, want normalized layer", match)
	}
	if !match.Direct() {
		t.Fatal("confirmed normalized hit must be direct")
	}

	match, err = store.Check(ctx, "completely unrelated friendly chatter about the weekend")
	if err != nil {
		t.Fatal(err)
	}
	if match != nil {
		t.Fatalf("match = %+v, want none", match)
	}
}

func TestCheckCandidateNotDirect(t *testing.T) {
	t.Parallel()

	const spam = "free followers available today message me for details"
	fake := newFakeSignatureStore()
	fake.add(spam, db.SignatureStatusCandidate)
	store := NewStore(fake)

	match, err := store.Check(context.Background(), spam)
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Layer != LayerExact {
		t.Fatalf("match = %+v, want exact layer", match)
	}
	if match.Direct() {
		t.Fatal("candidate hit must not be direct")
	}
}

func TestCheckSkipsFillerOnly(t *testing.T) {
	t.Parallel()

	store := NewStore(newFakeSignatureStore())
	match, err := store.Check(context.Background(), "@someone 12345 https://x.example")
	if err != nil {
		t.Fatal(err)
	}
	if match != nil {
		t.Fatalf("match = %+v, want none for filler-only text", match)
	}
}

func TestRecordBuildsCandidate(t *testing.T) {
	t.Parallel()

	fake := newFakeSignatureStore()
	store := NewStore(fake)
	sig, err := store.Record(context.Background(), "join the giveaway at https://prize.example now", 42)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || len(fake.upserted) != 1 {
		t.Fatalf("upserted = %d, want 1", len(fake.upserted))
	}
	row := fake.upserted[0]
	if row.Status != db.SignatureStatusCandidate {
		t.Fatalf("status = %s, want candidate", row.Status)
	}
	if row.ExactHash == nil || *row.ExactHash == "" {
		t.Fatal("exact hash not set")
	}
	if row.ExpiresAt.Before(row.FirstSeenAt) {
		t.Fatal("expiry precedes first seen")
	}
}

func TestRecordSampleKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	fake := newFakeSignatureStore()
	store := NewStore(fake)

	// Cyrillic runes are 2 bytes, the mixed prefix shifts the cutoff onto
	// a rune's second byte.
	text := "join now " + strings.Repeat("ж", 400)
	sig, err := store.Record(context.Background(), text, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Fatal("no signature recorded")
	}
	sample := fake.upserted[0].SampleText
	if len(sample) > 512 {
		t.Fatalf("sample length = %d", len(sample))
	}
	if !utf8.ValidString(sample) {
		t.Fatal("sample truncation split a rune")
	}
}

func TestConfirmPromotesCandidate(t *testing.T) {
	t.Parallel()

	fake := newFakeSignatureStore()
	store := NewStore(fake)

	sig, err := store.Confirm(context.Background(), "crypto signals in bio, dm me to join", 7)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Status != db.SignatureStatusConfirmed {
		t.Fatalf("signature = %+v, want confirmed", sig)
	}
	if got := fake.statusSet[sig.NormalizedHash]; got != db.SignatureStatusConfirmed {
		t.Fatalf("stored status = %q, want confirmed", got)
	}
	minExpiry := time.Now().Add(db.SignatureConfirmedTTL - time.Minute)
	if sig.ExpiresAt.Before(minExpiry) {
		t.Fatalf("expiry %v not extended to confirmed retention", sig.ExpiresAt)
	}
}

func TestConfirmLeavesConfirmedAlone(t *testing.T) {
	t.Parallel()

	const spam = "limited slots, message the admin for access"
	fake := newFakeSignatureStore()
	existing := fake.add(spam, db.SignatureStatusConfirmed)
	store := NewStore(fake)

	sig, err := store.Confirm(context.Background(), spam, 7)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Status != db.SignatureStatusConfirmed {
		t.Fatalf("signature = %+v, want confirmed", sig)
	}
	if _, ok := fake.statusSet[existing.NormalizedHash]; ok {
		t.Fatal("already-confirmed signature was re-flipped")
	}
}
