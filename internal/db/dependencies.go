package db

import (
	"context"
	"time"
)

// Client is the aggregate store surface. Components declare narrower
// interfaces at their consumption site and take this as the
// implementation.
type Client interface {
	Close() error

	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	SetSettings(ctx context.Context, settings *Settings) error
	GetCustomRules(ctx context.Context, chatID int64) ([]*CustomRule, error)
	SetCustomRules(ctx context.Context, chatID int64, rules []*CustomRule) error
	IsTrustedUser(ctx context.Context, chatID, userID int64) (bool, error)
	SetTrustedUser(ctx context.Context, chatID, userID int64, trusted bool) error

	GetSignatureByExact(ctx context.Context, exactHash string) (*SpamSignature, error)
	GetSignatureByNormalized(ctx context.Context, normalizedHash string) (*SpamSignature, error)
	GetSignaturesByStructural(ctx context.Context, structuralHash string, limit int) ([]*SpamSignature, error)
	GetRecentSignatures(ctx context.Context, limit int) ([]*SpamSignature, error)
	UpsertSignature(ctx context.Context, sig *SpamSignature, chatID int64) (*SpamSignature, error)
	SetSignatureStatus(ctx context.Context, normalizedHash, status string, expiresAt time.Time) error
	DeleteExpiredSignatures(ctx context.Context, now time.Time) (int64, error)

	GetForwardSource(ctx context.Context, sourceHash string) (*ForwardSource, error)
	UpsertForwardReport(ctx context.Context, src *ForwardSource, chatID int64, spam bool) (*ForwardSource, error)
	SetForwardStatus(ctx context.Context, sourceHash, status string, expiresAt time.Time) error
	DeleteExpiredForwardSources(ctx context.Context, now time.Time) (int64, error)

	GetUserReputation(ctx context.Context, userID int64) (*UserReputation, error)
	BumpUserCounters(ctx context.Context, userID, chatID int64, delta ReputationDelta) (*UserReputation, error)
	SaveUserScore(ctx context.Context, userID int64, score int, status string) error

	CreateVoteEvent(ctx context.Context, event *VoteEvent) error
	GetVoteEvent(ctx context.Context, id string) (*VoteEvent, error)
	AddVoteBallot(ctx context.Context, ballot *VoteBallot) (bool, error)
	GetVoteBallots(ctx context.Context, eventID string) ([]*VoteBallot, error)
	ApplyBallotToTally(ctx context.Context, eventID string, vote string, weight int) (*VoteEvent, error)
	ResolveVoteEvent(ctx context.Context, id, result, resolvedBy string, resolvedAt time.Time) (bool, error)
	GetExpiredPendingVotes(ctx context.Context, now time.Time) ([]*VoteEvent, error)
	CountResolvedSpamVotes(ctx context.Context, userID int64) (int, error)

	ScheduleDeletion(ctx context.Context, row *ScheduledDeletion) error
	CancelDeletion(ctx context.Context, chatID int64, messageID int) error
	GetDueDeletions(ctx context.Context, now time.Time, limit int) ([]*ScheduledDeletion, error)
	RemoveDeletion(ctx context.Context, id int64) error
	BumpDeletionAttempt(ctx context.Context, id int64) error
	PurgeStaleDeletions(ctx context.Context, olderThan time.Time) (int64, error)

	GetCasSyncState(ctx context.Context) (*CasSyncState, error)
	SaveCasSyncState(ctx context.Context, state *CasSyncState) error
	UpsertBanlist(ctx context.Context, userIDs []int64) error
	IsBanlisted(ctx context.Context, userID int64) (bool, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

// ReputationDelta is a set of counter increments applied atomically to a
// user's reputation row.
type ReputationDelta struct {
	Messages       int
	CleanMessages  int
	SpamDetections int
	Deletions      int
	ManualUnbans   int
}
