package velocity

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/vigilbot/vigil/internal/db"
)

type fakeForwardStore struct {
	records map[string]*db.ForwardSource
}

func newFakeForwardStore() *fakeForwardStore {
	return &fakeForwardStore{records: map[string]*db.ForwardSource{}}
}

func (f *fakeForwardStore) GetForwardSource(_ context.Context, hash string) (*db.ForwardSource, error) {
	if record, ok := f.records[hash]; ok {
		return record, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeForwardStore) UpsertForwardReport(_ context.Context, src *db.ForwardSource, _ int64, spam bool) (*db.ForwardSource, error) {
	record, ok := f.records[src.SourceHash]
	if !ok {
		copied := *src
		record = &copied
		f.records[src.SourceHash] = record
	}
	if spam {
		record.SpamReports++
	} else {
		record.CleanReports++
	}
	return record, nil
}

func (f *fakeForwardStore) SetForwardStatus(_ context.Context, hash, status string, expiresAt time.Time) error {
	f.records[hash].Status = status
	f.records[hash].ExpiresAt = expiresAt
	return nil
}

func (f *fakeForwardStore) DeleteExpiredForwardSources(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func hiddenMsg(name string) *api.Message {
	return &api.Message{ForwardOrigin: &api.MessageOrigin{Type: "hidden_user", SenderUserName: name}}
}

func TestHiddenSourceEscalation(t *testing.T) {
	t.Parallel()

	store := newFakeForwardStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	src := FromMessage(hiddenMsg("spammer"))
	if src == nil || src.Type != db.ForwardSourceHidden {
		t.Fatalf("source = %+v", src)
	}

	// Distinct chats so the report window does not swallow reports.
	wantByReport := []string{
		db.ForwardStatusClean,
		db.ForwardStatusClean,
		db.ForwardStatusSuspicious,
		db.ForwardStatusSuspicious,
		db.ForwardStatusSuspicious,
		db.ForwardStatusBlacklisted,
	}
	for i, want := range wantByReport {
		status, err := tracker.ReportSpam(ctx, src, int64(i+1))
		if err != nil {
			t.Fatal(err)
		}
		if status != want {
			t.Fatalf("report %d: status = %s, want %s", i+1, status, want)
		}
	}
}

func TestReportWindowDeduplicates(t *testing.T) {
	t.Parallel()

	store := newFakeForwardStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	src := FromMessage(hiddenMsg("burst"))

	for i := 0; i < 10; i++ {
		if _, err := tracker.ReportSpam(ctx, src, 7); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.records[src.Hash].SpamReports; got != 1 {
		t.Fatalf("spam reports = %d, want 1 inside one window", got)
	}
}

func TestCleanReportsDiscountAndDemote(t *testing.T) {
	t.Parallel()

	store := newFakeForwardStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	src := FromMessage(hiddenMsg("mixed"))

	for i := 0; i < 3; i++ {
		if _, err := tracker.ReportSpam(ctx, src, int64(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if store.records[src.Hash].Status != db.ForwardStatusSuspicious {
		t.Fatalf("status = %s, want suspicious", store.records[src.Hash].Status)
	}

	// One clean report is not enough to offset a spam report.
	status, err := tracker.ReportClean(ctx, src, 100)
	if err != nil {
		t.Fatal(err)
	}
	if status != db.ForwardStatusSuspicious {
		t.Fatalf("status = %s, want suspicious after one clean report", status)
	}

	// The second clean report tips the discounted count back under the
	// threshold.
	status, err = tracker.ReportClean(ctx, src, 101)
	if err != nil {
		t.Fatal(err)
	}
	if status != db.ForwardStatusClean {
		t.Fatalf("status = %s, want clean after discount", status)
	}
}

func TestFromMessageVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      *api.Message
		wantType string
	}{
		{"not a forward", &api.Message{Text: "hi"}, ""},
		{"nil message", nil, ""},
		{"hidden user", hiddenMsg("x"), db.ForwardSourceHidden},
		{
			"user forward",
			&api.Message{ForwardOrigin: &api.MessageOrigin{Type: "user", SenderUser: &api.User{ID: 5}}},
			db.ForwardSourceUser,
		},
		{
			"channel forward",
			&api.Message{ForwardOrigin: &api.MessageOrigin{Type: "channel", Chat: &api.Chat{ID: -100}, MessageID: 1}},
			db.ForwardSourceChannel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := FromMessage(tt.msg)
			if tt.wantType == "" {
				if src != nil {
					t.Fatalf("source = %+v, want nil", src)
				}
				return
			}
			if src == nil || src.Type != tt.wantType {
				t.Fatalf("source = %+v, want type %s", src, tt.wantType)
			}
		})
	}
}
