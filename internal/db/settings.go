package db

import "errors"

var ErrNotFound = errors.New("not found")

func DefaultSettings(chatID int64) *Settings {
	return &Settings{
		ID:                     chatID,
		Enabled:                true,
		ConfidenceThreshold:    0,
		GlobalBanOptOut:        false,
		CommunityVotingEnabled: true,
		Language:               "en",
	}
}
