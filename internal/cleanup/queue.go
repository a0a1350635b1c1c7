package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/observability"
)

// Outcome classifies one deletion attempt.
type Outcome int

const (
	OutcomeDeleted Outcome = iota
	// The message was removed by someone else first. Resolved, not an
	// error.
	OutcomeGone
	// The bot lost its rights in the chat. Retrying cannot help.
	OutcomeNoPermission
	// Transient failure, retried on the next sweep.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeleted:
		return "deleted"
	case OutcomeGone:
		return "gone"
	case OutcomeNoPermission:
		return "no_permission"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Deleter performs the actual platform call.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) Outcome
}

type deletionStore interface {
	ScheduleDeletion(ctx context.Context, row *db.ScheduledDeletion) error
	CancelDeletion(ctx context.Context, chatID int64, messageID int) error
	GetDueDeletions(ctx context.Context, now time.Time, limit int) ([]*db.ScheduledDeletion, error)
	RemoveDeletion(ctx context.Context, id int64) error
	BumpDeletionAttempt(ctx context.Context, id int64) error
	PurgeStaleDeletions(ctx context.Context, olderThan time.Time) (int64, error)
}

type Config struct {
	SweepInterval time.Duration
	// Delays under this also get an in-memory timer; the durable row
	// stays as the crash backstop.
	InlineCutoff time.Duration
	RowTTL       time.Duration
}

const (
	sweepBatch  = 100
	maxAttempts = 5
)

// Queue is a durable delayed-deletion scheduler. Every scheduled
// deletion survives restarts; the in-memory timers only shave latency
// off short delays.
type Queue struct {
	db      deletionStore
	deleter Deleter
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(store deletionStore, deleter Deleter, cfg Config, logger *zap.Logger) *Queue {
	return &Queue{
		db:      store,
		deleter: deleter,
		cfg:     cfg,
		logger:  logger,
		timers:  map[string]*time.Timer{},
	}
}

// Schedule persists a deletion due after delay. Short delays also arm an
// in-memory timer so the UI reacts promptly.
func (q *Queue) Schedule(ctx context.Context, chatID int64, messageID int, delay time.Duration, source, reference string) error {
	now := time.Now()
	err := q.db.ScheduleDeletion(ctx, &db.ScheduledDeletion{
		ChatID:    chatID,
		MessageID: messageID,
		DeleteAt:  now.Add(delay),
		Source:    source,
		Reference: reference,
		CreatedAt: now,
	})
	if err != nil {
		return errors.Wrap(err, "persist deletion")
	}

	if delay < q.cfg.InlineCutoff {
		q.armTimer(chatID, messageID, delay)
	}
	return nil
}

// Cancel drops a pending deletion, both the row and any armed timer.
func (q *Queue) Cancel(ctx context.Context, chatID int64, messageID int) error {
	q.disarmTimer(chatID, messageID)
	return errors.Wrap(q.db.CancelDeletion(ctx, chatID, messageID), "cancel deletion")
}

// Process handles every row that is due right now. Safe to run
// concurrently with itself; rows are removed at most once and a retried
// transient failure cannot duplicate a deletion.
func (q *Queue) Process(ctx context.Context) error {
	rows, err := q.db.GetDueDeletions(ctx, time.Now(), sweepBatch)
	if err != nil {
		return errors.Wrap(err, "load due deletions")
	}
	for _, row := range rows {
		q.attempt(ctx, row)
	}
	return nil
}

func (q *Queue) attempt(ctx context.Context, row *db.ScheduledDeletion) {
	outcome := q.deleter.DeleteMessage(ctx, row.ChatID, row.MessageID)
	observability.RecordDeletionOutcome(outcome.String())

	if outcome == OutcomeFailed && row.Attempts+1 < maxAttempts {
		if err := q.db.BumpDeletionAttempt(ctx, row.ID); err != nil {
			q.logger.Warn("bump deletion attempt failed", zap.Int64("id", row.ID), zap.Error(err))
		}
		return
	}
	if outcome == OutcomeFailed {
		q.logger.Warn("deletion abandoned after retries",
			zap.Int64("chat", row.ChatID), zap.Int("message", row.MessageID))
	}
	if err := q.db.RemoveDeletion(ctx, row.ID); err != nil {
		q.logger.Warn("remove deletion row failed", zap.Int64("id", row.ID), zap.Error(err))
	}
}

// Start runs the startup pass and the periodic sweep. The startup pass
// covers rows whose in-memory timers died with the previous process.
func (q *Queue) Start(ctx context.Context) {
	q.runCtx, q.cancel = context.WithCancel(ctx)

	if err := q.Process(q.runCtx); err != nil {
		q.logger.Warn("startup cleanup pass failed", zap.Error(err))
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.runCtx.Done():
				return
			case <-ticker.C:
				if err := q.Process(q.runCtx); err != nil {
					q.logger.Warn("cleanup sweep failed", zap.Error(err))
				}
				if _, err := q.db.PurgeStaleDeletions(q.runCtx, time.Now().Add(-q.cfg.RowTTL)); err != nil {
					q.logger.Warn("purge stale deletions failed", zap.Error(err))
				}
			}
		}
	}()
}

func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) armTimer(chatID int64, messageID int, delay time.Duration) {
	key := timerKey(chatID, messageID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.timers[key]; ok {
		old.Stop()
	}
	q.timers[key] = time.AfterFunc(delay, func() {
		q.disarmTimer(chatID, messageID)
		ctx := q.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := q.Process(ctx); err != nil {
			q.logger.Warn("inline cleanup failed", zap.Error(err))
		}
	})
}

func (q *Queue) disarmTimer(chatID int64, messageID int) {
	key := timerKey(chatID, messageID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.timers[key]; ok {
		timer.Stop()
		delete(q.timers, key)
	}
}

func timerKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}
