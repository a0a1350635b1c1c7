package signature

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/vigilbot/vigil/internal/db"
)

const (
	LayerExact      = "exact"
	LayerNormalized = "normalized"
	LayerFuzzy      = "fuzzy"
	LayerStructural = "structural"

	// Max simhash hamming distance still counted as the same template.
	fuzzyMaxDistance = 10

	structuralScanLimit = 64
	maxSampleLen        = 512
)

type signatureStore interface {
	GetSignatureByExact(ctx context.Context, exactHash string) (*db.SpamSignature, error)
	GetSignatureByNormalized(ctx context.Context, normalizedHash string) (*db.SpamSignature, error)
	GetSignaturesByStructural(ctx context.Context, structuralHash string, limit int) ([]*db.SpamSignature, error)
	UpsertSignature(ctx context.Context, sig *db.SpamSignature, chatID int64) (*db.SpamSignature, error)
	SetSignatureStatus(ctx context.Context, normalizedHash, status string, expiresAt time.Time) error
	DeleteExpiredSignatures(ctx context.Context, now time.Time) (int64, error)
}

// Match is a known-signature hit. Direct matches against a confirmed
// signature are conclusive on their own; looser layers only contribute
// evidence to the rest of the pipeline.
type Match struct {
	Signature  *db.SpamSignature
	Layer      string
	Confidence int
}

// Direct reports whether the hit alone justifies a spam verdict.
func (m *Match) Direct() bool {
	if m == nil {
		return false
	}
	return (m.Layer == LayerExact || m.Layer == LayerNormalized) && m.Signature.Confirmed()
}

// Store checks and records message signatures across four layers of
// decreasing strictness.
type Store struct {
	db signatureStore
}

func NewStore(client signatureStore) *Store {
	return &Store{db: client}
}

// Check looks text up layer by layer and returns the strictest hit, or
// nil when the content is unknown.
func (s *Store) Check(ctx context.Context, text string) (*Match, error) {
	if Normalize(text) == "" {
		return nil, nil
	}
	hashes := Compute(text)

	sig, err := s.db.GetSignatureByExact(ctx, hashes.Exact)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, errors.Wrap(err, "exact lookup")
	}
	if sig != nil {
		return &Match{Signature: sig, Layer: LayerExact, Confidence: matchConfidence(sig, 100, 70)}, nil
	}

	sig, err = s.db.GetSignatureByNormalized(ctx, hashes.Normalized)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, errors.Wrap(err, "normalized lookup")
	}
	if sig != nil {
		return &Match{Signature: sig, Layer: LayerNormalized, Confidence: matchConfidence(sig, 95, 65)}, nil
	}

	candidates, err := s.db.GetSignaturesByStructural(ctx, hashes.Structural, structuralScanLimit)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, errors.Wrap(err, "structural lookup")
	}

	var (
		best         *db.SpamSignature
		bestDistance = fuzzyMaxDistance + 1
	)
	for _, candidate := range candidates {
		if d := HammingDistance(candidate.FuzzyHash, hashes.Fuzzy); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	if best != nil {
		return &Match{Signature: best, Layer: LayerFuzzy, Confidence: matchConfidence(best, 85, 55)}, nil
	}
	if len(candidates) > 0 {
		return &Match{Signature: candidates[0], Layer: LayerStructural, Confidence: matchConfidence(candidates[0], 60, 40)}, nil
	}
	return nil, nil
}

// Record registers text as spam seen in chatID. Repeated reports from
// the same group do not advance confirmation; the store flips the
// signature to confirmed once enough distinct groups reported it.
func (s *Store) Record(ctx context.Context, text string, chatID int64) (*db.SpamSignature, error) {
	hashes := Compute(text)
	if Normalize(text) == "" {
		return nil, nil
	}

	sample := truncateSample(text)
	now := time.Now()
	exact := hashes.Exact
	sig := &db.SpamSignature{
		NormalizedHash: hashes.Normalized,
		ExactHash:      &exact,
		FuzzyHash:      hashes.Fuzzy,
		StructuralHash: hashes.Structural,
		Status:         db.SignatureStatusCandidate,
		SampleText:     sample,
		FirstSeenAt:    now,
		LastSeenAt:     now,
		ExpiresAt:      now.Add(db.SignatureCandidateTTL),
	}
	saved, err := s.db.UpsertSignature(ctx, sig, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "record signature")
	}
	return saved, nil
}

// Confirm registers text as spam and promotes its signature straight to
// confirmed, skipping the distinct-group count. Used when a human
// verdict settles the question.
func (s *Store) Confirm(ctx context.Context, text string, chatID int64) (*db.SpamSignature, error) {
	saved, err := s.Record(ctx, text, chatID)
	if err != nil || saved == nil {
		return saved, err
	}
	if saved.Confirmed() {
		return saved, nil
	}
	expiresAt := time.Now().Add(db.SignatureConfirmedTTL)
	if err := s.db.SetSignatureStatus(ctx, saved.NormalizedHash, db.SignatureStatusConfirmed, expiresAt); err != nil {
		return nil, errors.Wrap(err, "confirm signature")
	}
	saved.Status = db.SignatureStatusConfirmed
	saved.ExpiresAt = expiresAt
	return saved, nil
}

// PurgeExpired drops signatures past their TTL.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	return s.db.DeleteExpiredSignatures(ctx, time.Now())
}

// truncateSample caps the stored sample, backing off to a rune boundary
// so the cut never splits a multibyte character.
func truncateSample(text string) string {
	if len(text) <= maxSampleLen {
		return text
	}
	cut := maxSampleLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func matchConfidence(sig *db.SpamSignature, confirmed, candidate int) int {
	if sig.Confirmed() {
		return confirmed
	}
	return candidate
}
