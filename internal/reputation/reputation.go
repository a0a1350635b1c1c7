package reputation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vigilbot/vigil/internal/db"
)

const (
	BaseScore = 50

	// Score a user is reset to when the community clears them.
	TrustedResetScore = 75
)

type reputationStore interface {
	GetUserReputation(ctx context.Context, userID int64) (*db.UserReputation, error)
	BumpUserCounters(ctx context.Context, userID, chatID int64, delta db.ReputationDelta) (*db.UserReputation, error)
	SaveUserScore(ctx context.Context, userID int64, score int, status string) error
}

// Engine turns a user's cross-group history into a trust score. Counters
// advance on every message; the score is only recomputed on moderation
// events.
type Engine struct {
	db reputationStore
}

func NewEngine(store reputationStore) *Engine {
	return &Engine{db: store}
}

// Get returns the stored reputation, or a neutral baseline for users the
// system has never seen.
func (e *Engine) Get(ctx context.Context, userID int64) (*db.UserReputation, error) {
	rep, err := e.db.GetUserReputation(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return &db.UserReputation{UserID: userID, Score: BaseScore, Status: db.ReputationNeutral}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get reputation")
	}
	return rep, nil
}

// OnMessage counts a message without recomputing the score.
func (e *Engine) OnMessage(ctx context.Context, userID, chatID int64) error {
	_, err := e.db.BumpUserCounters(ctx, userID, chatID, db.ReputationDelta{Messages: 1})
	return errors.Wrap(err, "bump message counter")
}

// OnCleanVerdict counts a message that passed the pipeline.
func (e *Engine) OnCleanVerdict(ctx context.Context, userID, chatID int64) error {
	_, err := e.db.BumpUserCounters(ctx, userID, chatID, db.ReputationDelta{CleanMessages: 1})
	return errors.Wrap(err, "bump clean counter")
}

// OnSpamVerdict records a confirmed spam detection and recomputes.
func (e *Engine) OnSpamVerdict(ctx context.Context, userID, chatID int64) (*db.UserReputation, error) {
	return e.bumpAndScore(ctx, userID, chatID, db.ReputationDelta{SpamDetections: 1})
}

// OnDeletion records a moderator deleting the user's message.
func (e *Engine) OnDeletion(ctx context.Context, userID, chatID int64) (*db.UserReputation, error) {
	return e.bumpAndScore(ctx, userID, chatID, db.ReputationDelta{Deletions: 1})
}

// OnManualUnban records an admin overriding a ban, which weighs in the
// user's favor from then on.
func (e *Engine) OnManualUnban(ctx context.Context, userID, chatID int64) (*db.UserReputation, error) {
	return e.bumpAndScore(ctx, userID, chatID, db.ReputationDelta{ManualUnbans: 1})
}

// ResetTrusted marks a user community-cleared.
func (e *Engine) ResetTrusted(ctx context.Context, userID int64) error {
	err := e.db.SaveUserScore(ctx, userID, TrustedResetScore, db.ReputationTrusted)
	return errors.Wrap(err, "reset trusted")
}

func (e *Engine) bumpAndScore(ctx context.Context, userID, chatID int64, delta db.ReputationDelta) (*db.UserReputation, error) {
	rep, err := e.db.BumpUserCounters(ctx, userID, chatID, delta)
	if err != nil {
		return nil, errors.Wrap(err, "bump counters")
	}
	rep.Score = Score(rep, time.Now())
	rep.Status = Band(rep.Score)
	if err := e.db.SaveUserScore(ctx, userID, rep.Score, rep.Status); err != nil {
		return nil, errors.Wrap(err, "save score")
	}
	return rep, nil
}

// Score derives the 0-100 trust score from raw counters.
func Score(rep *db.UserReputation, now time.Time) int {
	score := BaseScore
	score += longevityBonus(rep.FirstSeenAt, now)
	score += groupBonus(rep.ChatCount)
	score += volumeBonus(rep.MessageCount)
	score += cleanRatioBonus(rep.CleanMessages, rep.MessageCount)
	score += 10 * rep.ManualUnbans
	score -= 15 * rep.SpamDetections
	score -= 5 * rep.Deletions

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Band maps a score to its status band.
func Band(score int) string {
	switch {
	case score >= 75:
		return db.ReputationTrusted
	case score >= 40:
		return db.ReputationNeutral
	case score >= 20:
		return db.ReputationSuspicious
	default:
		return db.ReputationRestricted
	}
}

func longevityBonus(firstSeen time.Time, now time.Time) int {
	if firstSeen.IsZero() {
		return 0
	}
	days := int(now.Sub(firstSeen).Hours() / 24)
	switch {
	case days >= 365:
		return 20
	case days >= 180:
		return 15
	case days >= 90:
		return 10
	case days >= 30:
		return 5
	default:
		return 0
	}
}

func groupBonus(chats int) int {
	switch {
	case chats >= 5:
		return 15
	case chats >= 3:
		return 10
	case chats >= 2:
		return 5
	default:
		return 0
	}
}

func volumeBonus(messages int) int {
	switch {
	case messages >= 500:
		return 10
	case messages >= 100:
		return 7
	case messages >= 20:
		return 3
	default:
		return 0
	}
}

func cleanRatioBonus(clean, total int) int {
	if total < 20 {
		return 0
	}
	ratio := float64(clean) / float64(total)
	switch {
	case ratio >= 0.98:
		return 5
	case ratio >= 0.90:
		return 3
	default:
		return 0
	}
}
