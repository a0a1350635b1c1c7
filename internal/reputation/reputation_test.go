package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

func TestScore(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	yearAgo := now.AddDate(-1, -1, 0)

	tests := []struct {
		name string
		rep  db.UserReputation
		want int
	}{
		{
			name: "fresh user stays at base",
			rep:  db.UserReputation{},
			want: 50,
		},
		{
			name: "established clean user maxes the bonuses",
			rep: db.UserReputation{
				FirstSeenAt:   yearAgo,
				ChatCount:     6,
				MessageCount:  1000,
				CleanMessages: 990,
			},
			want: 100,
		},
		{
			name: "spam detections drag hard",
			rep:  db.UserReputation{SpamDetections: 3},
			want: 5,
		},
		{
			name: "clamped at zero",
			rep:  db.UserReputation{SpamDetections: 5, Deletions: 10},
			want: 0,
		},
		{
			name: "manual unban restores standing",
			rep:  db.UserReputation{SpamDetections: 1, ManualUnbans: 1},
			want: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(&tt.rep, now); got != tt.want {
				t.Fatalf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  string
	}{
		{100, db.ReputationTrusted},
		{75, db.ReputationTrusted},
		{74, db.ReputationNeutral},
		{40, db.ReputationNeutral},
		{39, db.ReputationSuspicious},
		{20, db.ReputationSuspicious},
		{19, db.ReputationRestricted},
		{0, db.ReputationRestricted},
	}
	for _, tt := range tests {
		if got := Band(tt.score); got != tt.want {
			t.Errorf("Band(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

type fakeRepStore struct {
	rep    *db.UserReputation
	scores []int
	status []string
}

func (f *fakeRepStore) GetUserReputation(context.Context, int64) (*db.UserReputation, error) {
	if f.rep == nil {
		return nil, db.ErrNotFound
	}
	return f.rep, nil
}

func (f *fakeRepStore) BumpUserCounters(_ context.Context, userID, _ int64, delta db.ReputationDelta) (*db.UserReputation, error) {
	if f.rep == nil {
		f.rep = &db.UserReputation{UserID: userID, Score: BaseScore, Status: db.ReputationNeutral}
	}
	f.rep.MessageCount += delta.Messages
	f.rep.CleanMessages += delta.CleanMessages
	f.rep.SpamDetections += delta.SpamDetections
	f.rep.Deletions += delta.Deletions
	f.rep.ManualUnbans += delta.ManualUnbans
	return f.rep, nil
}

func (f *fakeRepStore) SaveUserScore(_ context.Context, _ int64, score int, status string) error {
	f.scores = append(f.scores, score)
	f.status = append(f.status, status)
	return nil
}

func TestEngineUnknownUserIsNeutral(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeRepStore{})
	rep, err := engine.Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != BaseScore || rep.Status != db.ReputationNeutral {
		t.Fatalf("rep = %+v, want neutral baseline", rep)
	}
}

func TestEngineRecomputesOnModerationEvents(t *testing.T) {
	t.Parallel()

	store := &fakeRepStore{}
	engine := NewEngine(store)
	ctx := context.Background()

	// Plain messages never trigger a recompute.
	if err := engine.OnMessage(ctx, 7, 1); err != nil {
		t.Fatal(err)
	}
	if len(store.scores) != 0 {
		t.Fatalf("scores written = %v, want none on message", store.scores)
	}

	rep, err := engine.OnSpamVerdict(ctx, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != 35 || rep.Status != db.ReputationSuspicious {
		t.Fatalf("rep = %+v, want 35/suspicious", rep)
	}
	if len(store.scores) != 1 || store.scores[0] != 35 {
		t.Fatalf("persisted scores = %v, want [35]", store.scores)
	}
}
