package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/detect/velocity"
)

func hiddenForwardMsg(name string) *api.Message {
	return &api.Message{ForwardOrigin: &api.MessageOrigin{Type: "hidden_user", SenderUserName: name}}
}

func TestGetForwardSourceUnknownHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testClient(t)

	src, err := client.GetForwardSource(ctx, "never-seen")
	if !errors.Is(err, db.ErrNotFound) || src != nil {
		t.Fatalf("unknown lookup: src=%v err=%v, want ErrNotFound", src, err)
	}
}

// The tracker's first lookup of a never-seen source goes through the real
// client contract, not a fake, so the not-found path stays honest.
func TestTrackerStatusUnknownSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testClient(t)
	tracker := velocity.NewTracker(client)

	src := velocity.FromMessage(hiddenForwardMsg("first_timer"))
	if src == nil {
		t.Fatal("no source derived from hidden forward")
	}
	status, err := tracker.Status(ctx, src)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != db.ForwardStatusClean {
		t.Fatalf("status = %s, want clean for unknown source", status)
	}
}

func TestForwardReportRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testClient(t)

	seed := &db.ForwardSource{
		SourceHash:   "hash-1",
		SourceType:   db.ForwardSourceHidden,
		Status:       db.ForwardStatusClean,
		FirstSeenAt:  time.Now().UTC(),
		LastReportAt: time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
	}
	if _, err := client.UpsertForwardReport(ctx, seed, 10, true); err != nil {
		t.Fatalf("upsert report: %v", err)
	}

	got, err := client.GetForwardSource(ctx, "hash-1")
	if err != nil || got == nil {
		t.Fatalf("lookup after report: src=%v err=%v", got, err)
	}
	if got.SpamReports != 1 || got.GroupCount != 1 {
		t.Fatalf("counters = %d spam / %d groups, want 1/1", got.SpamReports, got.GroupCount)
	}
}
