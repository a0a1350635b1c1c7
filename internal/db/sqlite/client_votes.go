package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

func (s *sqliteClient) CreateVoteEvent(ctx context.Context, event *db.VoteEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO vote_events
			(id, chat_id, target_user_id, target_display, message_id, message_text, user_context,
			 ai_confidence, ai_reason, action_taken, spam_count, clean_count, spam_weight, clean_weight,
			 result, resolved_by, resolved_at, notification_message_id, created_at, expires_at)
		VALUES (:id, :chat_id, :target_user_id, :target_display, :message_id, :message_text, :user_context,
			 :ai_confidence, :ai_reason, :action_taken, :spam_count, :clean_count, :spam_weight, :clean_weight,
			 :result, :resolved_by, :resolved_at, :notification_message_id, :created_at, :expires_at)
	`
	_, err := s.db.NamedExecContext(ctx, query, event)
	return err
}

func (s *sqliteClient) GetVoteEvent(ctx context.Context, id string) (*db.VoteEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var event db.VoteEvent
	err := s.db.GetContext(ctx, &event, `SELECT * FROM vote_events WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

// AddVoteBallot inserts a ballot, reporting false when the voter already
// voted on this event. Second votes never change the stored ballot.
func (s *sqliteClient) AddVoteBallot(ctx context.Context, ballot *db.VoteBallot) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO vote_ballots (event_id, voter_id, vote, weight, is_admin, voted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ballot.EventID,
		ballot.VoterID,
		ballot.Vote,
		ballot.Weight,
		ballot.IsAdmin,
		ballot.VotedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteClient) GetVoteBallots(ctx context.Context, eventID string) ([]*db.VoteBallot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var ballots []*db.VoteBallot
	err := s.db.SelectContext(ctx, &ballots, `
		SELECT * FROM vote_ballots WHERE event_id = ? ORDER BY voted_at ASC
	`, eventID)
	return ballots, err
}

// ApplyBallotToTally advances the precomputed tally with arithmetic
// updates and returns the refreshed event.
func (s *sqliteClient) ApplyBallotToTally(ctx context.Context, eventID string, vote string, weight int) (*db.VoteEvent, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var query string
	switch vote {
	case db.VoteResultSpam:
		query = `UPDATE vote_events SET spam_count = spam_count + 1, spam_weight = spam_weight + ? WHERE id = ?`
	case db.VoteResultClean:
		query = `UPDATE vote_events SET clean_count = clean_count + 1, clean_weight = clean_weight + ? WHERE id = ?`
	default:
		return nil, fmt.Errorf("unknown vote %q", vote)
	}
	if _, err := s.db.ExecContext(ctx, query, weight, eventID); err != nil {
		return nil, err
	}

	var event db.VoteEvent
	if err := s.db.GetContext(ctx, &event, `SELECT * FROM vote_events WHERE id = ?`, eventID); err != nil {
		return nil, err
	}
	return &event, nil
}

// ResolveVoteEvent flips a pending event to its terminal result. Returns
// false when the event was already resolved by a concurrent caller.
func (s *sqliteClient) ResolveVoteEvent(ctx context.Context, id, result, resolvedBy string, resolvedAt time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE vote_events
		SET result = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND result = ?
	`, result, resolvedBy, resolvedAt, id, db.VoteResultPending)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteClient) GetExpiredPendingVotes(ctx context.Context, now time.Time) ([]*db.VoteEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var events []*db.VoteEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM vote_events
		WHERE result = ? AND expires_at <= ?
		ORDER BY expires_at ASC
	`, db.VoteResultPending, now)
	return events, err
}

// CountResolvedSpamVotes counts spam verdicts resolved by quorum, not by
// timeout. Full-ban gating depends on this distinction.
func (s *sqliteClient) CountResolvedSpamVotes(ctx context.Context, userID int64) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM vote_events
		WHERE target_user_id = ? AND result = ? AND resolved_by = ?
	`, userID, db.VoteResultSpam, db.VoteResolvedByVotes)
	return count, err
}
