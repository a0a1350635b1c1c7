package policy

import (
	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/detect/risk"
)

type Action int

const (
	ActionNone Action = iota
	ActionDeleteOnly
	ActionWarnRestrict
	ActionMuteDelete
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionDeleteOnly:
		return "delete"
	case ActionWarnRestrict:
		return "warn_restrict"
	case ActionMuteDelete:
		return "mute_delete"
	}
	return "unknown"
}

const (
	thresholdFloor = 60
	thresholdCeil  = 95

	// Confidence bands. At or above finalBand the verdict stands without
	// community review.
	finalBand    = 90
	restrictBand = 80

	// Quorum-resolved spam verdicts needed before history alone permits
	// a full ban.
	fullBanVerdicts = 2

	newAccountMaxAgeDays  = 7
	newAccountMaxMessages = 5
)

// Input is everything the policy fuses into one decision.
type Input struct {
	Confidence    int
	BaseThreshold int

	RiskLevel   risk.Level
	Reputation  *db.UserReputation
	EditedEarly bool

	IsPremium      bool
	HasUsername    bool
	HasAvatar      bool
	IsReply        bool
	AccountAgeDays int
	MessageCount   int

	ConfirmedSignature bool
	QuorumSpamVerdicts int
}

// Decision is the fused outcome. NeedsVote means the action was taken
// provisionally and a community vote decides whether it sticks.
type Decision struct {
	Action    Action
	Threshold int
	FullBan   bool
	NeedsVote bool
}

// Decide maps confidence against a per-message dynamic threshold.
func Decide(in Input) Decision {
	threshold := Threshold(in)
	decision := Decision{Threshold: threshold}

	switch {
	case in.Confidence >= finalBand:
		decision.Action = ActionMuteDelete
	case in.Confidence >= restrictBand:
		decision.Action = ActionWarnRestrict
	case in.Confidence >= threshold:
		if brandNewAccount(in) {
			decision.Action = ActionWarnRestrict
		} else {
			decision.Action = ActionDeleteOnly
		}
	default:
		return decision
	}

	decision.NeedsVote = in.Confidence < finalBand
	decision.FullBan = fullBanEligible(in)
	return decision
}

// Threshold computes the per-message confidence bar. Trust signals raise
// it, suspicion lowers it, and the result stays inside [60,95].
func Threshold(in Input) int {
	threshold := in.BaseThreshold

	if in.IsPremium {
		threshold += 5
	}
	if in.HasUsername && in.HasAvatar {
		threshold += 2
	}
	if in.IsReply {
		threshold += 3
	}
	if in.MessageCount >= 100 {
		threshold += 5
	}
	if in.AccountAgeDays >= 180 {
		threshold += 5
	}

	if in.Reputation != nil {
		switch in.Reputation.Status {
		case db.ReputationTrusted:
			threshold += 10
		case db.ReputationSuspicious:
			threshold -= 5
		case db.ReputationRestricted:
			threshold -= 10
		}
	}

	switch in.RiskLevel {
	case risk.High:
		threshold -= 8
	case risk.Low:
		threshold += 3
	}
	if in.EditedEarly {
		threshold -= 5
	}

	if threshold < thresholdFloor {
		return thresholdFloor
	}
	if threshold > thresholdCeil {
		return thresholdCeil
	}
	return threshold
}

// fullBanEligible gates permanent bans on hard evidence. Everything else
// gets at most a time-bounded mute.
func fullBanEligible(in Input) bool {
	if in.ConfirmedSignature {
		return true
	}
	if in.QuorumSpamVerdicts >= fullBanVerdicts {
		return true
	}
	return in.Reputation != nil && in.Reputation.Status == db.ReputationRestricted
}

func brandNewAccount(in Input) bool {
	return in.AccountAgeDays < newAccountMaxAgeDays && in.MessageCount < newAccountMaxMessages
}
