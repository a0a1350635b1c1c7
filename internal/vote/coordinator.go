package vote

import (
	"context"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/observability"
)

var (
	ErrNotEligible = errors.New("vote: voter not eligible")
	ErrDuplicate   = errors.New("vote: already voted")
	ErrClosed      = errors.New("vote: event already resolved")
)

type voteStore interface {
	CreateVoteEvent(ctx context.Context, event *db.VoteEvent) error
	GetVoteEvent(ctx context.Context, id string) (*db.VoteEvent, error)
	AddVoteBallot(ctx context.Context, ballot *db.VoteBallot) (bool, error)
	ApplyBallotToTally(ctx context.Context, eventID string, vote string, weight int) (*db.VoteEvent, error)
	ResolveVoteEvent(ctx context.Context, id, result, resolvedBy string, resolvedAt time.Time) (bool, error)
	GetExpiredPendingVotes(ctx context.Context, now time.Time) ([]*db.VoteEvent, error)
	CountResolvedSpamVotes(ctx context.Context, userID int64) (int, error)
}

// Config carries the weighting scheme. Quorum is the weighted total that
// triggers immediate resolution.
type Config struct {
	Quorum        int
	AdminWeight   int
	TrustedWeight int
	Timeout       time.Duration
	SweepInterval time.Duration
}

// Resolver receives each resolved event exactly once per process.
type Resolver interface {
	OnVoteResolved(ctx context.Context, event *db.VoteEvent)
}

// Voter describes the person casting a ballot. Standing is established
// by the caller from chat membership and the trusted-user list.
type Voter struct {
	ID      int64
	IsAdmin bool
	Trusted bool
}

// Coordinator runs weighted community votes over uncertain verdicts.
type Coordinator struct {
	db       voteStore
	cfg      Config
	resolver Resolver
	logger   *zap.Logger

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(store voteStore, cfg Config, resolver Resolver, logger *zap.Logger) *Coordinator {
	return &Coordinator{db: store, cfg: cfg, resolver: resolver, logger: logger}
}

// Open creates a pending vote event with the standard expiry.
func (c *Coordinator) Open(ctx context.Context, event *db.VoteEvent) (*db.VoteEvent, error) {
	now := time.Now()
	event.ID = uuid.NewRandom().String()
	event.Result = db.VoteResultPending
	event.CreatedAt = now
	event.ExpiresAt = now.Add(c.cfg.Timeout)
	if err := c.db.CreateVoteEvent(ctx, event); err != nil {
		return nil, errors.Wrap(err, "create vote event")
	}
	return event, nil
}

// AddVote casts one weighted ballot. Admins and trusted users may vote;
// everyone else is rejected. A second ballot from the same voter is
// rejected regardless of its direction. Reaching the weighted quorum
// resolves the event immediately.
func (c *Coordinator) AddVote(ctx context.Context, eventID string, voter Voter, voteSpam bool) (*db.VoteEvent, error) {
	weight := c.weightOf(voter)
	if weight == 0 {
		return nil, ErrNotEligible
	}

	event, err := c.db.GetVoteEvent(ctx, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "get vote event")
	}
	if event.Result != db.VoteResultPending {
		return nil, ErrClosed
	}

	kind := db.VoteResultClean
	if voteSpam {
		kind = db.VoteResultSpam
	}
	inserted, err := c.db.AddVoteBallot(ctx, &db.VoteBallot{
		EventID: eventID,
		VoterID: voter.ID,
		Vote:    kind,
		Weight:  weight,
		IsAdmin: voter.IsAdmin,
		VotedAt: time.Now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "add ballot")
	}
	if !inserted {
		return nil, ErrDuplicate
	}

	event, err = c.db.ApplyBallotToTally(ctx, eventID, kind, weight)
	if err != nil {
		return nil, errors.Wrap(err, "apply ballot")
	}

	if event.SpamWeight+event.CleanWeight >= c.cfg.Quorum {
		if err := c.resolve(ctx, event, winner(event), db.VoteResolvedByVotes); err != nil {
			return nil, err
		}
	}
	return event, nil
}

// Sweep resolves every pending event past its expiry. Events nobody
// voted on default to spam, keeping the provisional action in place.
func (c *Coordinator) Sweep(ctx context.Context) error {
	expired, err := c.db.GetExpiredPendingVotes(ctx, time.Now())
	if err != nil {
		return errors.Wrap(err, "load expired votes")
	}
	for _, event := range expired {
		resolvedBy := db.VoteResolvedByTimeout
		result := winner(event)
		if event.SpamCount+event.CleanCount == 0 {
			resolvedBy = db.VoteResolvedByNoVotes
			result = db.VoteResultSpam
		}
		if err := c.resolve(ctx, event, result, resolvedBy); err != nil {
			c.logger.Warn("sweep resolution failed", zap.String("event", event.ID), zap.Error(err))
		}
	}
	return nil
}

// ConfirmedSpamVotes counts a user's quorum-resolved spam outcomes.
// Timeout resolutions deliberately do not count.
func (c *Coordinator) ConfirmedSpamVotes(ctx context.Context, userID int64) (int, error) {
	return c.db.CountResolvedSpamVotes(ctx, userID)
}

func (c *Coordinator) Start(ctx context.Context) {
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.runCtx.Done():
				return
			case <-ticker.C:
				if err := c.Sweep(c.runCtx); err != nil {
					c.logger.Warn("vote sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// resolve flips the event to its terminal result. The conditional update
// makes concurrent resolutions settle on exactly one winner; the loser
// returns without side effects.
func (c *Coordinator) resolve(ctx context.Context, event *db.VoteEvent, result, resolvedBy string) error {
	now := time.Now()
	won, err := c.db.ResolveVoteEvent(ctx, event.ID, result, resolvedBy, now)
	if err != nil {
		return errors.Wrap(err, "resolve vote event")
	}
	if !won {
		return nil
	}

	event.Result = result
	event.ResolvedBy = &resolvedBy
	event.ResolvedAt = &now
	observability.RecordVoteResolution(result, resolvedBy)
	if c.resolver != nil {
		c.resolver.OnVoteResolved(ctx, event)
	}
	return nil
}

func (c *Coordinator) weightOf(voter Voter) int {
	switch {
	case voter.IsAdmin:
		return c.cfg.AdminWeight
	case voter.Trusted:
		return c.cfg.TrustedWeight
	default:
		return 0
	}
}

// winner applies the consensus rule: clean only on a strict weighted
// majority, ties keep the spam verdict.
func winner(event *db.VoteEvent) string {
	if event.CleanWeight > event.SpamWeight {
		return db.VoteResultClean
	}
	return db.VoteResultSpam
}
