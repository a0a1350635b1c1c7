package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

const signatureColumns = `
	s.normalized_hash, s.exact_hash, s.fuzzy_hash, s.structural_hash,
	s.status, s.confirmations, s.sample_text,
	s.first_seen_at, s.last_seen_at, s.expires_at,
	(SELECT COUNT(*) FROM signature_groups g WHERE g.normalized_hash = s.normalized_hash) AS group_count
`

func (s *sqliteClient) GetSignatureByExact(ctx context.Context, exactHash string) (*db.SpamSignature, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var sig db.SpamSignature
	err := s.db.GetContext(ctx, &sig, `
		SELECT `+signatureColumns+`
		FROM spam_signatures s
		WHERE s.exact_hash = ? AND s.expires_at > ?
	`, exactHash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &sig, nil
}

func (s *sqliteClient) GetSignatureByNormalized(ctx context.Context, normalizedHash string) (*db.SpamSignature, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var sig db.SpamSignature
	err := s.db.GetContext(ctx, &sig, `
		SELECT `+signatureColumns+`
		FROM spam_signatures s
		WHERE s.normalized_hash = ? AND s.expires_at > ?
	`, normalizedHash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &sig, nil
}

func (s *sqliteClient) GetSignaturesByStructural(ctx context.Context, structuralHash string, limit int) ([]*db.SpamSignature, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var sigs []*db.SpamSignature
	err := s.db.SelectContext(ctx, &sigs, `
		SELECT `+signatureColumns+`
		FROM spam_signatures s
		WHERE s.structural_hash = ? AND s.expires_at > ?
		ORDER BY s.last_seen_at DESC
		LIMIT ?
	`, structuralHash, time.Now().UTC(), limit)
	return sigs, err
}

func (s *sqliteClient) GetRecentSignatures(ctx context.Context, limit int) ([]*db.SpamSignature, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var sigs []*db.SpamSignature
	err := s.db.SelectContext(ctx, &sigs, `
		SELECT `+signatureColumns+`
		FROM spam_signatures s
		WHERE s.expires_at > ?
		ORDER BY s.last_seen_at DESC
		LIMIT ?
	`, time.Now().UTC(), limit)
	return sigs, err
}

// UpsertSignature records one more sighting of a template from chatID.
// Confirmation counting and the candidate->confirmed flip happen inside a
// single transaction, so concurrent sightings never lose increments.
func (s *sqliteClient) UpsertSignature(ctx context.Context, sig *db.SpamSignature, chatID int64) (*db.SpamSignature, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO spam_signatures
			(normalized_hash, exact_hash, fuzzy_hash, structural_hash, status, confirmations, sample_text, first_seen_at, last_seen_at, expires_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(normalized_hash) DO UPDATE SET
		confirmations = confirmations + 1,
		exact_hash = COALESCE(spam_signatures.exact_hash, excluded.exact_hash),
		last_seen_at = excluded.last_seen_at,
		expires_at = MAX(spam_signatures.expires_at, excluded.expires_at)
	`,
		sig.NormalizedHash,
		sig.ExactHash,
		sig.FuzzyHash,
		sig.StructuralHash,
		db.SignatureStatusCandidate,
		sig.SampleText,
		now,
		now,
		now.Add(db.SignatureCandidateTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert signature: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO signature_groups (normalized_hash, chat_id) VALUES (?, ?)
	`, sig.NormalizedHash, chatID); err != nil {
		return nil, fmt.Errorf("add signature group: %w", err)
	}

	var groups int
	if err = tx.GetContext(ctx, &groups, `
		SELECT COUNT(*) FROM signature_groups WHERE normalized_hash = ?
	`, sig.NormalizedHash); err != nil {
		return nil, fmt.Errorf("count signature groups: %w", err)
	}

	if groups >= db.SignatureConfirmGroups {
		if _, err = tx.ExecContext(ctx, `
			UPDATE spam_signatures
			SET status = ?, expires_at = ?
			WHERE normalized_hash = ? AND status = ?
		`, db.SignatureStatusConfirmed, now.Add(db.SignatureConfirmedTTL), sig.NormalizedHash, db.SignatureStatusCandidate); err != nil {
			return nil, fmt.Errorf("confirm signature: %w", err)
		}
	}

	var out db.SpamSignature
	if err = tx.GetContext(ctx, &out, `
		SELECT `+signatureColumns+`
		FROM spam_signatures s WHERE s.normalized_hash = ?
	`, sig.NormalizedHash); err != nil {
		return nil, fmt.Errorf("reload signature: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

func (s *sqliteClient) SetSignatureStatus(ctx context.Context, normalizedHash, status string, expiresAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE spam_signatures SET status = ?, expires_at = ? WHERE normalized_hash = ?
	`, status, expiresAt, normalizedHash)
	return err
}

func (s *sqliteClient) DeleteExpiredSignatures(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM signature_groups WHERE normalized_hash IN
			(SELECT normalized_hash FROM spam_signatures WHERE expires_at <= ?)
	`, now)
	if err != nil {
		return 0, err
	}
	res, err = s.db.ExecContext(ctx, `DELETE FROM spam_signatures WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
