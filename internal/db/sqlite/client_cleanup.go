package sqlite

import (
	"context"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

func (s *sqliteClient) ScheduleDeletion(ctx context.Context, row *db.ScheduledDeletion) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO scheduled_deletions (chat_id, message_id, delete_at, source, reference, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(chat_id, message_id, source) DO UPDATE SET
		delete_at = excluded.delete_at,
		reference = excluded.reference
	`
	_, err := s.db.ExecContext(ctx, query,
		row.ChatID,
		row.MessageID,
		row.DeleteAt,
		row.Source,
		row.Reference,
		row.CreatedAt,
	)
	return err
}

func (s *sqliteClient) CancelDeletion(ctx context.Context, chatID int64, messageID int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_deletions WHERE chat_id = ? AND message_id = ?
	`, chatID, messageID)
	return err
}

func (s *sqliteClient) GetDueDeletions(ctx context.Context, now time.Time, limit int) ([]*db.ScheduledDeletion, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rows []*db.ScheduledDeletion
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM scheduled_deletions
		WHERE delete_at <= ?
		ORDER BY delete_at ASC
		LIMIT ?
	`, now, limit)
	return rows, err
}

func (s *sqliteClient) RemoveDeletion(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_deletions WHERE id = ?`, id)
	return err
}

func (s *sqliteClient) BumpDeletionAttempt(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deletions SET attempts = attempts + 1 WHERE id = ?
	`, id)
	return err
}

func (s *sqliteClient) PurgeStaleDeletions(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_deletions WHERE created_at <= ?
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
