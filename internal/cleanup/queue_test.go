package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/db"
)

type fakeDeletionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*db.ScheduledDeletion
}

func newFakeDeletionStore() *fakeDeletionStore {
	return &fakeDeletionStore{rows: map[int64]*db.ScheduledDeletion{}}
}

func (f *fakeDeletionStore) ScheduleDeletion(_ context.Context, row *db.ScheduledDeletion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	copied := *row
	copied.ID = f.nextID
	f.rows[copied.ID] = &copied
	return nil
}

func (f *fakeDeletionStore) CancelDeletion(_ context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.ChatID == chatID && row.MessageID == messageID {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeDeletionStore) GetDueDeletions(_ context.Context, now time.Time, limit int) ([]*db.ScheduledDeletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.ScheduledDeletion
	for _, row := range f.rows {
		if !row.DeleteAt.After(now) {
			copied := *row
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDeletionStore) RemoveDeletion(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeDeletionStore) BumpDeletionAttempt(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Attempts++
	}
	return nil
}

func (f *fakeDeletionStore) PurgeStaleDeletions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeDeletionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeDeleter struct {
	mu       sync.Mutex
	outcomes []Outcome
	calls    int
}

func (f *fakeDeleter) DeleteMessage(context.Context, int64, int) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcome := OutcomeDeleted
	if f.calls < len(f.outcomes) {
		outcome = f.outcomes[f.calls]
	}
	f.calls++
	return outcome
}

func (f *fakeDeleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testQueue(store *fakeDeletionStore, deleter Deleter) *Queue {
	return NewQueue(store, deleter, Config{
		SweepInterval: time.Hour,
		InlineCutoff:  15 * time.Second,
		RowTTL:        48 * time.Hour,
	}, zap.NewNop())
}

func TestProcessRemovesResolvedRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome Outcome
	}{
		{"deleted", OutcomeDeleted},
		{"already gone", OutcomeGone},
		{"no permission", OutcomeNoPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newFakeDeletionStore()
			q := testQueue(store, &fakeDeleter{outcomes: []Outcome{tt.outcome}})
			ctx := context.Background()

			if err := q.Schedule(ctx, 1, 10, -time.Second, "test", ""); err != nil {
				t.Fatal(err)
			}
			if err := q.Process(ctx); err != nil {
				t.Fatal(err)
			}
			if store.count() != 0 {
				t.Fatalf("rows left = %d, want 0", store.count())
			}
		})
	}
}

func TestTransientFailureRetries(t *testing.T) {
	t.Parallel()

	store := newFakeDeletionStore()
	deleter := &fakeDeleter{outcomes: []Outcome{OutcomeFailed, OutcomeDeleted}}
	q := testQueue(store, deleter)
	ctx := context.Background()

	if err := q.Schedule(ctx, 1, 10, -time.Second, "test", ""); err != nil {
		t.Fatal(err)
	}

	if err := q.Process(ctx); err != nil {
		t.Fatal(err)
	}
	if store.count() != 1 {
		t.Fatalf("rows = %d, want 1 kept for retry", store.count())
	}

	if err := q.Process(ctx); err != nil {
		t.Fatal(err)
	}
	if store.count() != 0 {
		t.Fatalf("rows = %d, want 0 after successful retry", store.count())
	}
}

func TestPersistentFailureAbandoned(t *testing.T) {
	t.Parallel()

	store := newFakeDeletionStore()
	deleter := &fakeDeleter{outcomes: []Outcome{
		OutcomeFailed, OutcomeFailed, OutcomeFailed, OutcomeFailed, OutcomeFailed, OutcomeFailed,
	}}
	q := testQueue(store, deleter)
	ctx := context.Background()

	if err := q.Schedule(ctx, 1, 10, -time.Second, "test", ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxAttempts; i++ {
		if err := q.Process(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if store.count() != 0 {
		t.Fatalf("rows = %d, want abandoned row removed", store.count())
	}
	if deleter.callCount() != maxAttempts {
		t.Fatalf("attempts = %d, want %d", deleter.callCount(), maxAttempts)
	}
}

func TestCancelDropsRowAndTimer(t *testing.T) {
	t.Parallel()

	store := newFakeDeletionStore()
	deleter := &fakeDeleter{}
	q := testQueue(store, deleter)
	ctx := context.Background()

	if err := q.Schedule(ctx, 1, 10, 5*time.Second, "test", ""); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	if store.count() != 0 {
		t.Fatalf("rows = %d, want 0 after cancel", store.count())
	}
	q.mu.Lock()
	timers := len(q.timers)
	q.mu.Unlock()
	if timers != 0 {
		t.Fatalf("timers = %d, want 0 after cancel", timers)
	}
}

func TestInlineTimerFires(t *testing.T) {
	t.Parallel()

	store := newFakeDeletionStore()
	deleter := &fakeDeleter{}
	q := testQueue(store, deleter)
	ctx := context.Background()

	if err := q.Schedule(ctx, 1, 10, 30*time.Millisecond, "test", ""); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.count() != 0 {
		t.Fatal("inline timer never processed the row")
	}
	if deleter.callCount() == 0 {
		t.Fatal("deleter never called")
	}
}
