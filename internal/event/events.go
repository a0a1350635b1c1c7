package event

import (
	"time"

	"github.com/vigilbot/vigil/internal/db"
)

const (
	TypeSpamDetected = "spam_detected"
	TypeCleanSeen    = "clean_seen"
	TypeVoteResolved = "vote_resolved"
)

// SpamDetected fires when the pipeline reaches a spam verdict, before
// any community vote.
type SpamDetected struct {
	*Base
	ChatID      int64
	UserID      int64
	MessageID   int
	Text        string
	Confidence  float64
	Reason      string
	Source      string
	ForwardHash string
	ForwardType string
}

func NewSpamDetected(chatID, userID int64, messageID int, text, reason, source string, confidence float64) *SpamDetected {
	return &SpamDetected{
		Base:       CreateBase(TypeSpamDetected, time.Now().Add(time.Hour)),
		ChatID:     chatID,
		UserID:     userID,
		MessageID:  messageID,
		Text:       text,
		Confidence: confidence,
		Reason:     reason,
		Source:     source,
	}
}

// WithForward attaches the forward origin for velocity accounting.
func (e *SpamDetected) WithForward(hash, sourceType string) *SpamDetected {
	e.ForwardHash = hash
	e.ForwardType = sourceType
	return e
}

// CleanSeen fires for messages the pipeline let through. Consumers use
// it to feed clean counters without slowing the update path.
type CleanSeen struct {
	*Base
	ChatID      int64
	UserID      int64
	MessageID   int
	Text        string
	Source      string
	ForwardHash string
	ForwardType string
}

func NewCleanSeen(chatID, userID int64, messageID int, text, source string) *CleanSeen {
	return &CleanSeen{
		Base:      CreateBase(TypeCleanSeen, time.Now().Add(time.Hour)),
		ChatID:    chatID,
		UserID:    userID,
		MessageID: messageID,
		Text:      text,
		Source:    source,
	}
}

func (e *CleanSeen) WithForward(hash, sourceType string) *CleanSeen {
	e.ForwardHash = hash
	e.ForwardType = sourceType
	return e
}

// VoteResolved fires once per vote event when it leaves pending.
type VoteResolved struct {
	*Base
	Event *db.VoteEvent
}

func NewVoteResolved(voteEvent *db.VoteEvent) *VoteResolved {
	return &VoteResolved{
		Base:  CreateBase(TypeVoteResolved, time.Now().Add(time.Hour)),
		Event: voteEvent,
	}
}
