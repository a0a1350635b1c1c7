package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vigilbot/vigil/internal/db"
)

func (s *sqliteClient) GetCasSyncState(ctx context.Context) (*db.CasSyncState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var state db.CasSyncState
	err := s.db.GetContext(ctx, &state, `SELECT * FROM cas_sync_state WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &db.CasSyncState{ID: 1, Status: db.CasSyncIdle}, nil
		}
		return nil, err
	}
	return &state, nil
}

func (s *sqliteClient) SaveCasSyncState(ctx context.Context, state *db.CasSyncState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state.ID = 1
	state.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO cas_sync_state (id, cursor, total_processed, total_imported, status, batch_offset, batch_size, updated_at)
		VALUES (:id, :cursor, :total_processed, :total_imported, :status, :batch_offset, :batch_size, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
		cursor = excluded.cursor,
		total_processed = excluded.total_processed,
		total_imported = excluded.total_imported,
		status = excluded.status,
		batch_offset = excluded.batch_offset,
		batch_size = excluded.batch_size,
		updated_at = excluded.updated_at
	`
	_, err := s.db.NamedExecContext(ctx, query, state)
	return err
}

func (s *sqliteClient) UpsertBanlist(ctx context.Context, userIDs []int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	rollback := true
	defer func() {
		if rollback {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.WithError(err).Error("failed to rollback transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO banlist (user_id) VALUES (?)
		ON CONFLICT(user_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, userID := range userIDs {
		if _, err := stmt.ExecContext(ctx, userID); err != nil {
			return fmt.Errorf("failed to insert user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	rollback = false
	return nil
}

func (s *sqliteClient) IsBanlisted(ctx context.Context, userID int64) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM banlist WHERE user_id = ?`, userID)
	return count > 0, err
}

func (s *sqliteClient) GetKV(ctx context.Context, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get value for key %s: %w", key, err)
	}
	return value, nil
}

func (s *sqliteClient) SetKV(ctx context.Context, key string, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("failed to set value for key %s: %w", key, err)
	}
	return nil
}
