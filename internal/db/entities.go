package db

import (
	"time"
)

const (
	SignatureStatusCandidate = "candidate"
	SignatureStatusConfirmed = "confirmed"

	// Unique reporting groups required to confirm a signature.
	SignatureConfirmGroups = 5

	SignatureCandidateTTL = 30 * 24 * time.Hour
	SignatureConfirmedTTL = 90 * 24 * time.Hour
)

// SpamSignature is one content template tracked across groups. The
// normalized hash is the upsert key; the exact hash is unique when present.
type SpamSignature struct {
	NormalizedHash string    `db:"normalized_hash"`
	ExactHash      *string   `db:"exact_hash"`
	FuzzyHash      int64     `db:"fuzzy_hash"`
	StructuralHash string    `db:"structural_hash"`
	Status         string    `db:"status"`
	Confirmations  int       `db:"confirmations"`
	GroupCount     int       `db:"group_count"`
	SampleText     string    `db:"sample_text"`
	FirstSeenAt    time.Time `db:"first_seen_at"`
	LastSeenAt     time.Time `db:"last_seen_at"`
	ExpiresAt      time.Time `db:"expires_at"`
}

func (s *SpamSignature) Confirmed() bool {
	return s != nil && s.Status == SignatureStatusConfirmed
}

const (
	ForwardSourceUser    = "user"
	ForwardSourceHidden  = "hidden"
	ForwardSourceChat    = "chat"
	ForwardSourceChannel = "channel"

	ForwardStatusClean       = "clean"
	ForwardStatusSuspicious  = "suspicious"
	ForwardStatusBlacklisted = "blacklisted"
)

// ForwardSource is the reputation record of one forward origin, keyed by
// a hash of its identity.
type ForwardSource struct {
	SourceHash   string    `db:"source_hash"`
	SourceType   string    `db:"source_type"`
	Status       string    `db:"status"`
	SpamReports  int       `db:"spam_reports"`
	CleanReports int       `db:"clean_reports"`
	GroupCount   int       `db:"group_count"`
	FirstSeenAt  time.Time `db:"first_seen_at"`
	LastReportAt time.Time `db:"last_report_at"`
	ExpiresAt    time.Time `db:"expires_at"`
}

const (
	ReputationTrusted    = "trusted"
	ReputationNeutral    = "neutral"
	ReputationSuspicious = "suspicious"
	ReputationRestricted = "restricted"
)

// UserReputation carries a user's cross-group counters and the derived
// score/status. Counters advance via atomic increments; score and status
// are recomputed on moderation events, not on every message.
type UserReputation struct {
	UserID         int64     `db:"user_id"`
	MessageCount   int       `db:"message_count"`
	CleanMessages  int       `db:"clean_messages"`
	SpamDetections int       `db:"spam_detections"`
	Deletions      int       `db:"deletions"`
	ManualUnbans   int       `db:"manual_unbans"`
	ChatCount      int       `db:"chat_count"`
	FirstSeenAt    time.Time `db:"first_seen_at"`
	Score          int       `db:"score"`
	Status         string    `db:"status"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const (
	VoteResultPending = "pending"
	VoteResultSpam    = "spam"
	VoteResultClean   = "clean"

	VoteResolvedByVotes   = "votes"
	VoteResolvedByTimeout = "timeout"
	VoteResolvedByNoVotes = "no_votes"
)

// VoteEvent is one community-verification event. Terminal once Result
// leaves pending. ResolvedBy distinguishes quorum resolutions from
// timeout ones; only quorum spam resolutions count toward full bans.
type VoteEvent struct {
	ID                    string     `db:"id"`
	ChatID                int64      `db:"chat_id"`
	TargetUserID          int64      `db:"target_user_id"`
	TargetDisplay         string     `db:"target_display"`
	MessageID             int        `db:"message_id"`
	MessageText           string     `db:"message_text"`
	UserContext           string     `db:"user_context"`
	AIConfidence          float64    `db:"ai_confidence"`
	AIReason              string     `db:"ai_reason"`
	ActionTaken           string     `db:"action_taken"`
	SpamCount             int        `db:"spam_count"`
	CleanCount            int        `db:"clean_count"`
	SpamWeight            int        `db:"spam_weight"`
	CleanWeight           int        `db:"clean_weight"`
	Result                string     `db:"result"`
	ResolvedBy            *string    `db:"resolved_by"`
	ResolvedAt            *time.Time `db:"resolved_at"`
	NotificationMessageID int        `db:"notification_message_id"`
	CreatedAt             time.Time  `db:"created_at"`
	ExpiresAt             time.Time  `db:"expires_at"`
}

// VoteBallot is one accepted vote. (event_id, voter_id) is the primary
// key, so a voter appears at most once per event.
type VoteBallot struct {
	EventID string    `db:"event_id"`
	VoterID int64     `db:"voter_id"`
	Vote    string    `db:"vote"`
	Weight  int       `db:"weight"`
	IsAdmin bool      `db:"is_admin"`
	VotedAt time.Time `db:"voted_at"`
}

// ScheduledDeletion is a durable delayed-deletion row. Removed once
// processed or once the TTL safety net passes.
type ScheduledDeletion struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	MessageID int       `db:"message_id"`
	DeleteAt  time.Time `db:"delete_at"`
	Source    string    `db:"source"`
	Reference string    `db:"reference"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}

const (
	CasSyncIdle    = "idle"
	CasSyncRunning = "running"
	CasSyncFailed  = "failed"
	CasSyncStopped = "stopped"
)

// CasSyncState is the singleton cursor of the external banlist import.
type CasSyncState struct {
	ID             int       `db:"id"`
	Cursor         int64     `db:"cursor"`
	TotalProcessed int64     `db:"total_processed"`
	TotalImported  int64     `db:"total_imported"`
	Status         string    `db:"status"`
	BatchOffset    int64     `db:"batch_offset"`
	BatchSize      int64     `db:"batch_size"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const (
	RuleAllow = "allow"
	RuleDeny  = "deny"
)

// CustomRule is a per-chat substring rule. Deny rules take priority over
// allow rules regardless of position.
type CustomRule struct {
	ChatID   int64  `db:"chat_id"`
	Position int    `db:"position"`
	Kind     string `db:"kind"`
	Pattern  string `db:"pattern"`
}

// Settings is per-chat collaborator-owned configuration.
type Settings struct {
	ID                      int64  `db:"id"`
	Enabled                 bool   `db:"enabled"`
	ConfidenceThreshold     int    `db:"confidence_threshold"`
	GlobalBanOptOut         bool   `db:"global_ban_optout"`
	CommunityVotingEnabled  bool   `db:"community_voting_enabled"`
	Language                string `db:"language"`
}
