package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

const reputationColumns = `
	r.user_id, r.message_count, r.clean_messages, r.spam_detections,
	r.deletions, r.manual_unbans, r.first_seen_at, r.score, r.status, r.updated_at,
	(SELECT COUNT(*) FROM user_chats c WHERE c.user_id = r.user_id) AS chat_count
`

func (s *sqliteClient) GetUserReputation(ctx context.Context, userID int64) (*db.UserReputation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rep db.UserReputation
	err := s.db.GetContext(ctx, &rep, `
		SELECT `+reputationColumns+`
		FROM user_reputation r WHERE r.user_id = ?
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &rep, nil
}

// BumpUserCounters applies the delta with arithmetic upserts so
// concurrent messages from the same user never lose increments.
func (s *sqliteClient) BumpUserCounters(ctx context.Context, userID, chatID int64, delta db.ReputationDelta) (*db.UserReputation, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO user_reputation
			(user_id, message_count, clean_messages, spam_detections, deletions, manual_unbans, first_seen_at, score, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 50, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		message_count = message_count + excluded.message_count,
		clean_messages = clean_messages + excluded.clean_messages,
		spam_detections = spam_detections + excluded.spam_detections,
		deletions = deletions + excluded.deletions,
		manual_unbans = manual_unbans + excluded.manual_unbans,
		updated_at = excluded.updated_at
	`,
		userID,
		delta.Messages,
		delta.CleanMessages,
		delta.SpamDetections,
		delta.Deletions,
		delta.ManualUnbans,
		now,
		db.ReputationNeutral,
		now,
	); err != nil {
		return nil, fmt.Errorf("bump user counters: %w", err)
	}

	if chatID != 0 {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_chats (user_id, chat_id) VALUES (?, ?)
		`, userID, chatID); err != nil {
			return nil, fmt.Errorf("add user chat: %w", err)
		}
	}

	var rep db.UserReputation
	if err = tx.GetContext(ctx, &rep, `
		SELECT `+reputationColumns+`
		FROM user_reputation r WHERE r.user_id = ?
	`, userID); err != nil {
		return nil, fmt.Errorf("reload reputation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &rep, nil
}

func (s *sqliteClient) SaveUserScore(ctx context.Context, userID int64, score int, status string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE user_reputation SET score = ?, status = ?, updated_at = ? WHERE user_id = ?
	`, score, status, time.Now().UTC(), userID)
	return err
}
