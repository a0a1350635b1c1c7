package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

func newVoteEvent(id string, target int64) *db.VoteEvent {
	now := time.Now().UTC()
	return &db.VoteEvent{
		ID:           id,
		ChatID:       -100,
		TargetUserID: target,
		Result:       db.VoteResultPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(5 * time.Minute),
	}
}

func TestDuplicateBallotRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testClient(t)

	if err := client.CreateVoteEvent(ctx, newVoteEvent("ev-1", 42)); err != nil {
		t.Fatalf("create event: %v", err)
	}

	first, err := client.AddVoteBallot(ctx, &db.VoteBallot{
		EventID: "ev-1", VoterID: 7, Vote: db.VoteResultSpam, Weight: 3, IsAdmin: true, VotedAt: time.Now().UTC(),
	})
	if err != nil || !first {
		t.Fatalf("first ballot: inserted=%v err=%v", first, err)
	}

	second, err := client.AddVoteBallot(ctx, &db.VoteBallot{
		EventID: "ev-1", VoterID: 7, Vote: db.VoteResultClean, Weight: 3, IsAdmin: true, VotedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second ballot: %v", err)
	}
	if second {
		t.Fatal("duplicate voter accepted")
	}

	ballots, err := client.GetVoteBallots(ctx, "ev-1")
	if err != nil {
		t.Fatalf("get ballots: %v", err)
	}
	if len(ballots) != 1 || ballots[0].Vote != db.VoteResultSpam {
		t.Fatalf("tally changed by duplicate vote: %+v", ballots)
	}
}

func TestResolveVoteEventIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testClient(t)

	if err := client.CreateVoteEvent(ctx, newVoteEvent("ev-2", 43)); err != nil {
		t.Fatalf("create event: %v", err)
	}

	now := time.Now().UTC()
	done, err := client.ResolveVoteEvent(ctx, "ev-2", db.VoteResultSpam, db.VoteResolvedByVotes, now)
	if err != nil || !done {
		t.Fatalf("first resolve: done=%v err=%v", done, err)
	}
	again, err := client.ResolveVoteEvent(ctx, "ev-2", db.VoteResultClean, db.VoteResolvedByTimeout, now)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again {
		t.Fatal("resolved event resolved twice")
	}

	event, err := client.GetVoteEvent(ctx, "ev-2")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Result != db.VoteResultSpam || event.ResolvedBy == nil || *event.ResolvedBy != db.VoteResolvedByVotes {
		t.Fatalf("terminal state overwritten: %+v", event)
	}
}

func TestCountResolvedSpamVotesExcludesTimeouts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testClient(t)
	now := time.Now().UTC()

	for _, tc := range []struct {
		id         string
		result     string
		resolvedBy string
	}{
		{"q-1", db.VoteResultSpam, db.VoteResolvedByVotes},
		{"q-2", db.VoteResultSpam, db.VoteResolvedByVotes},
		{"q-3", db.VoteResultSpam, db.VoteResolvedByTimeout},
		{"q-4", db.VoteResultSpam, db.VoteResolvedByNoVotes},
		{"q-5", db.VoteResultClean, db.VoteResolvedByVotes},
	} {
		if err := client.CreateVoteEvent(ctx, newVoteEvent(tc.id, 99)); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
		if _, err := client.ResolveVoteEvent(ctx, tc.id, tc.result, tc.resolvedBy, now); err != nil {
			t.Fatalf("resolve %s: %v", tc.id, err)
		}
	}

	count, err := client.CountResolvedSpamVotes(ctx, 99)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2 (quorum-resolved only)", count)
	}
}
