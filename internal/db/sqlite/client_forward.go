package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

const forwardColumns = `
	f.source_hash, f.source_type, f.status, f.spam_reports, f.clean_reports,
	f.first_seen_at, f.last_report_at, f.expires_at,
	(SELECT COUNT(*) FROM forward_source_groups g WHERE g.source_hash = f.source_hash) AS group_count
`

func (s *sqliteClient) GetForwardSource(ctx context.Context, sourceHash string) (*db.ForwardSource, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var src db.ForwardSource
	err := s.db.GetContext(ctx, &src, `
		SELECT `+forwardColumns+`
		FROM forward_sources f
		WHERE f.source_hash = ? AND f.expires_at > ?
	`, sourceHash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// UpsertForwardReport atomically bumps the spam or clean counter of a
// source and registers the reporting chat. Status escalation is decided
// by the caller from the returned counters.
func (s *sqliteClient) UpsertForwardReport(ctx context.Context, src *db.ForwardSource, chatID int64, spam bool) (*db.ForwardSource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	spamInc, cleanInc := 0, 0
	if spam {
		spamInc = 1
	} else {
		cleanInc = 1
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO forward_sources
			(source_hash, source_type, status, spam_reports, clean_reports, first_seen_at, last_report_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_hash) DO UPDATE SET
		spam_reports = spam_reports + ?,
		clean_reports = clean_reports + ?,
		last_report_at = excluded.last_report_at
	`,
		src.SourceHash,
		src.SourceType,
		db.ForwardStatusClean,
		spamInc,
		cleanInc,
		now,
		now,
		src.ExpiresAt,
		spamInc,
		cleanInc,
	); err != nil {
		return nil, fmt.Errorf("upsert forward report: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO forward_source_groups (source_hash, chat_id) VALUES (?, ?)
	`, src.SourceHash, chatID); err != nil {
		return nil, fmt.Errorf("add forward group: %w", err)
	}

	var out db.ForwardSource
	if err = tx.GetContext(ctx, &out, `
		SELECT `+forwardColumns+`
		FROM forward_sources f WHERE f.source_hash = ?
	`, src.SourceHash); err != nil {
		return nil, fmt.Errorf("reload forward source: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

func (s *sqliteClient) SetForwardStatus(ctx context.Context, sourceHash, status string, expiresAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE forward_sources SET status = ?, expires_at = ? WHERE source_hash = ?
	`, status, expiresAt, sourceHash)
	return err
}

func (s *sqliteClient) DeleteExpiredForwardSources(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM forward_source_groups WHERE source_hash IN
			(SELECT source_hash FROM forward_sources WHERE expires_at <= ?)
	`, now); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM forward_sources WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
