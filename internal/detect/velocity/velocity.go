package velocity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/vigilbot/vigil/internal/db"
)

// Escalation thresholds on the discounted report count, per source type.
// Hidden forwards escalate fastest; individual users slowest.
var thresholds = map[string]struct{ suspicious, blacklisted int }{
	db.ForwardSourceHidden:  {3, 6},
	db.ForwardSourceChat:    {5, 10},
	db.ForwardSourceChannel: {5, 10},
	db.ForwardSourceUser:    {8, 15},
}

// Inactivity TTL per status. Blacklisted sources are remembered longest;
// clean ones are forgotten first.
var statusTTL = map[string]time.Duration{
	db.ForwardStatusClean:       30 * 24 * time.Hour,
	db.ForwardStatusSuspicious:  90 * 24 * time.Hour,
	db.ForwardStatusBlacklisted: 180 * 24 * time.Hour,
}

// One report per source per chat per window counts toward escalation.
const reportWindow = 10 * time.Minute

type forwardStore interface {
	GetForwardSource(ctx context.Context, sourceHash string) (*db.ForwardSource, error)
	UpsertForwardReport(ctx context.Context, src *db.ForwardSource, chatID int64, spam bool) (*db.ForwardSource, error)
	SetForwardStatus(ctx context.Context, sourceHash, status string, expiresAt time.Time) error
	DeleteExpiredForwardSources(ctx context.Context, now time.Time) (int64, error)
}

// Source identifies one forward origin.
type Source struct {
	Hash string
	Type string
}

// FromMessage derives the forward source of msg, or nil when the message
// is not a forward.
func FromMessage(msg *api.Message) *Source {
	if msg == nil || msg.ForwardOrigin == nil {
		return nil
	}
	origin := msg.ForwardOrigin
	switch origin.Type {
	case "user":
		if origin.SenderUser == nil {
			return nil
		}
		return newSource(db.ForwardSourceUser, fmt.Sprintf("%d", origin.SenderUser.ID))
	case "hidden_user":
		if origin.SenderUserName == "" {
			return nil
		}
		return newSource(db.ForwardSourceHidden, origin.SenderUserName)
	case "chat":
		if origin.SenderChat == nil {
			return nil
		}
		return newSource(db.ForwardSourceChat, fmt.Sprintf("%d", origin.SenderChat.ID))
	case "channel":
		if origin.Chat == nil {
			return nil
		}
		return newSource(db.ForwardSourceChannel, fmt.Sprintf("%d", origin.Chat.ID))
	}
	return nil
}

func newSource(sourceType, id string) *Source {
	sum := sha256.Sum256([]byte(sourceType + ":" + id))
	return &Source{Hash: hex.EncodeToString(sum[:]), Type: sourceType}
}

// Tracker escalates forward sources that spread spam across groups and
// walks them back when their traffic turns out clean.
type Tracker struct {
	db     forwardStore
	recent *cache.Cache
}

func NewTracker(store forwardStore) *Tracker {
	return &Tracker{
		db:     store,
		recent: cache.New(reportWindow, reportWindow),
	}
}

// Status returns the current standing of a source, Clean for unknown
// ones.
func (t *Tracker) Status(ctx context.Context, src *Source) (string, error) {
	if src == nil {
		return db.ForwardStatusClean, nil
	}
	record, err := t.db.GetForwardSource(ctx, src.Hash)
	if errors.Is(err, db.ErrNotFound) {
		return db.ForwardStatusClean, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get forward source")
	}
	return record.Status, nil
}

// ReportSpam counts one spam sighting of src in chatID and escalates the
// source when its discounted total crosses a threshold. Repeat sightings
// in the same chat within the report window are ignored.
func (t *Tracker) ReportSpam(ctx context.Context, src *Source, chatID int64) (string, error) {
	return t.report(ctx, src, chatID, true)
}

// ReportClean counts one clean sighting. Two clean sightings offset one
// spam report; a source never demotes below clean.
func (t *Tracker) ReportClean(ctx context.Context, src *Source, chatID int64) (string, error) {
	return t.report(ctx, src, chatID, false)
}

func (t *Tracker) report(ctx context.Context, src *Source, chatID int64, spam bool) (string, error) {
	if src == nil {
		return db.ForwardStatusClean, nil
	}

	key := fmt.Sprintf("%s|%d|%v", src.Hash, chatID, spam)
	if _, seen := t.recent.Get(key); seen {
		return t.Status(ctx, src)
	}
	t.recent.SetDefault(key, struct{}{})

	now := time.Now()
	record, err := t.db.UpsertForwardReport(ctx, &db.ForwardSource{
		SourceHash:   src.Hash,
		SourceType:   src.Type,
		Status:       db.ForwardStatusClean,
		FirstSeenAt:  now,
		LastReportAt: now,
		ExpiresAt:    now.Add(statusTTL[db.ForwardStatusClean]),
	}, chatID, spam)
	if err != nil {
		return "", errors.Wrap(err, "upsert forward report")
	}

	status := statusFor(record)
	if status != record.Status {
		if err := t.db.SetForwardStatus(ctx, src.Hash, status, now.Add(statusTTL[status])); err != nil {
			return "", errors.Wrap(err, "set forward status")
		}
	}
	return status, nil
}

// PurgeExpired drops sources whose inactivity TTL passed.
func (t *Tracker) PurgeExpired(ctx context.Context) (int64, error) {
	return t.db.DeleteExpiredForwardSources(ctx, time.Now())
}

// statusFor derives standing from the discounted report count. The
// derivation is idempotent, so replayed reports settle on the same
// status.
func statusFor(record *db.ForwardSource) string {
	limits, ok := thresholds[record.SourceType]
	if !ok {
		limits = thresholds[db.ForwardSourceUser]
	}
	net := record.SpamReports - record.CleanReports/2
	switch {
	case net >= limits.blacklisted:
		return db.ForwardStatusBlacklisted
	case net >= limits.suspicious:
		return db.ForwardStatusSuspicious
	default:
		return db.ForwardStatusClean
	}
}
