package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/bot"
	"github.com/vigilbot/vigil/internal/cleanup"
	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/detect"
	"github.com/vigilbot/vigil/internal/detect/velocity"
	"github.com/vigilbot/vigil/internal/event"
	"github.com/vigilbot/vigil/internal/policy"
	"github.com/vigilbot/vigil/internal/reputation"
	"github.com/vigilbot/vigil/internal/telegram"
	"github.com/vigilbot/vigil/internal/vote"
)

const (
	voteCallbackPrefix = "sv"
	muteDuration       = 24 * time.Hour

	// Editing one of your first messages is a known trick for slipping
	// spam past on-send checks.
	editedEarlyMaxMessages = 10
)

// Config is the slice of runtime configuration the moderator needs.
type Config struct {
	BaseConfidenceThreshold int
	GlobalBanEnabled        bool
	NotificationTTL         time.Duration
}

// Moderator runs the spam pipeline on group messages and owns the vote
// notification flow.
type Moderator struct {
	s          bot.Service
	ops        *telegram.Ops
	detector   *detect.Detector
	reputation *reputation.Engine
	votes      *vote.Coordinator
	queue      *cleanup.Queue
	cfg        Config
	logger     *zap.Logger
}

func NewModerator(
	s bot.Service,
	ops *telegram.Ops,
	detector *detect.Detector,
	reputationEng *reputation.Engine,
	votes *vote.Coordinator,
	queue *cleanup.Queue,
	cfg Config,
	logger *zap.Logger,
) *Moderator {
	return &Moderator{
		s:          s,
		ops:        ops,
		detector:   detector,
		reputation: reputationEng,
		votes:      votes,
		queue:      queue,
		cfg:        cfg,
		logger:     logger,
	}
}

func (m *Moderator) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.CallbackQuery != nil && strings.HasPrefix(u.CallbackQuery.Data, voteCallbackPrefix+":") {
		m.handleVoteCallback(ctx, u.CallbackQuery)
		return false, nil
	}

	msg, edited := updateMessage(u)
	if msg == nil || chat == nil || user == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	if user.IsBot {
		return true, nil
	}
	return m.handleMessage(ctx, msg, chat, user, edited)
}

// updateMessage picks the message to moderate. Edits go through the same
// pipeline as new messages; spam pasted into an innocuous message after
// the fact must not escape review.
func updateMessage(u *api.Update) (msg *api.Message, edited bool) {
	if u.Message != nil {
		return u.Message, false
	}
	if u.EditedMessage != nil {
		return u.EditedMessage, true
	}
	return nil, false
}

func (m *Moderator) handleMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, edited bool) (bool, error) {
	settings, err := m.s.ChatSettings(ctx, chat.ID)
	if err != nil {
		return true, errors.Wrap(err, "get settings")
	}
	if !settings.Enabled {
		return true, nil
	}

	if err := m.reputation.OnMessage(ctx, user.ID, chat.ID); err != nil {
		m.logger.Warn("reputation bump failed", zap.Error(err))
	}

	verdict, err := m.detector.CheckSpam(ctx, detect.CheckRequest{Message: msg, Settings: settings})
	if err != nil {
		return true, errors.Wrap(err, "check spam")
	}

	if !verdict.IsSpam {
		cleanSeen := event.NewCleanSeen(chat.ID, user.ID, msg.MessageID, telegram.ExtractContent(msg), verdict.Source)
		if src := velocity.FromMessage(msg); src != nil {
			cleanSeen = cleanSeen.WithForward(src.Hash, src.Type)
		}
		event.Bus.NQ(cleanSeen)
		return true, nil
	}

	decision := policy.Decide(m.policyInput(ctx, msg, user, settings, verdict, edited))
	if decision.Action == policy.ActionNone {
		return true, nil
	}

	m.apply(ctx, decision, chat.ID, user.ID, msg.MessageID, settings.GlobalBanOptOut)

	text := telegram.ExtractContent(msg)
	spamDetected := event.NewSpamDetected(
		chat.ID, user.ID, msg.MessageID, text, verdict.Reason, verdict.Source,
		float64(verdict.Confidence)/100,
	)
	if src := velocity.FromMessage(msg); src != nil {
		spamDetected = spamDetected.WithForward(src.Hash, src.Type)
	}
	event.Bus.NQ(spamDetected)

	if decision.NeedsVote && settings.CommunityVotingEnabled {
		if err := m.openVote(ctx, msg, chat, user, verdict, decision); err != nil {
			m.logger.Warn("cant open community vote", zap.Error(err))
		}
	}
	return false, nil
}

// apply executes the enforcement action. Failures are logged, not
// returned; a missed restriction must not stall update processing.
func (m *Moderator) apply(ctx context.Context, decision policy.Decision, chatID, userID int64, messageID int, banOptOut bool) {
	switch decision.Action {
	case policy.ActionDeleteOnly, policy.ActionMuteDelete:
		switch m.ops.DeleteMessage(ctx, chatID, messageID) {
		case cleanup.OutcomeFailed:
			// Let the durable queue retry what the direct call could not.
			if err := m.queue.Schedule(ctx, chatID, messageID, 0, "verdict", ""); err != nil {
				m.logger.Warn("cant schedule deletion", zap.Error(err))
			}
		case cleanup.OutcomeNoPermission:
			if _, err := m.ops.SendMessage(ctx, api.NewMessage(chatID, "I need permission to delete messages in this group.")); err != nil {
				m.logger.Warn("cant post permission notice", zap.Error(err))
			}
		}
	}

	switch {
	case decision.FullBan && m.cfg.GlobalBanEnabled && !banOptOut:
		if err := m.ops.BanUser(ctx, chatID, userID, true); err != nil {
			m.logger.Warn("cant ban user", zap.Error(err))
		}
	case decision.Action == policy.ActionMuteDelete:
		if err := m.ops.MuteUser(ctx, chatID, userID, muteDuration); err != nil {
			m.logger.Warn("cant mute user", zap.Error(err))
		}
	case decision.Action == policy.ActionWarnRestrict:
		if err := m.ops.RestrictUser(ctx, chatID, userID); err != nil {
			m.logger.Warn("cant restrict user", zap.Error(err))
		}
	}
}

func (m *Moderator) policyInput(ctx context.Context, msg *api.Message, user *api.User, settings *db.Settings, verdict detect.Verdict, edited bool) policy.Input {
	rep, err := m.reputation.Get(ctx, user.ID)
	if err != nil {
		m.logger.Warn("reputation lookup failed", zap.Error(err))
		rep = nil
	}

	priorVotes := 0
	if n, err := m.votes.ConfirmedSpamVotes(ctx, user.ID); err == nil {
		priorVotes = n
	}

	in := policy.Input{
		Confidence:         verdict.Confidence,
		BaseThreshold:      m.baseThreshold(settings),
		RiskLevel:          verdict.Risk.Level,
		Reputation:         rep,
		IsPremium:          user.IsPremium,
		HasUsername:        user.UserName != "",
		IsReply:            msg.ReplyToMessage != nil,
		ConfirmedSignature: verdict.Source == detect.SourceSignature,
		QuorumSpamVerdicts: priorVotes,
	}
	if rep != nil {
		in.MessageCount = rep.MessageCount
		if !rep.FirstSeenAt.IsZero() {
			in.AccountAgeDays = int(time.Since(rep.FirstSeenAt).Hours() / 24)
		}
	}
	in.EditedEarly = editedEarly(edited, rep)
	if has, err := m.ops.HasProfilePhoto(ctx, user.ID); err == nil {
		in.HasAvatar = has
	}
	return in
}

// editedEarly flags edits from users the system barely knows. Editing is
// normal behavior once someone has any history in the network.
func editedEarly(edited bool, rep *db.UserReputation) bool {
	if !edited {
		return false
	}
	return rep == nil || rep.MessageCount < editedEarlyMaxMessages
}

func (m *Moderator) baseThreshold(settings *db.Settings) int {
	if settings != nil && settings.ConfidenceThreshold > 0 {
		return settings.ConfidenceThreshold
	}
	return m.cfg.BaseConfidenceThreshold
}

// openVote posts the notification first so its message id lands in the
// persisted event.
func (m *Moderator) openVote(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, verdict detect.Verdict, decision policy.Decision) error {
	text := telegram.ExtractContent(msg)
	display := telegram.GetUN(user)

	notification := api.NewMessage(chat.ID, tool.ExecTemplate(
		"Possible spam from {{ .user_name }} ({{ .confidence }}% confidence).\n{{ .snippet }}\n\nIs this spam?",
		map[string]any{
			"user_name":  display,
			"confidence": verdict.Confidence,
			"snippet":    snippet(text),
		},
	))
	sent, err := m.ops.SendMessage(ctx, notification)
	if err != nil {
		return errors.Wrap(err, "send vote notification")
	}

	voteEvent, err := m.votes.Open(ctx, &db.VoteEvent{
		ChatID:                chat.ID,
		TargetUserID:          user.ID,
		TargetDisplay:         display,
		MessageID:             msg.MessageID,
		MessageText:           text,
		UserContext:           m.userContext(ctx, user.ID),
		AIConfidence:          float64(verdict.Confidence) / 100,
		AIReason:              verdict.Reason,
		ActionTaken:           decision.Action.String(),
		NotificationMessageID: sent.MessageID,
	})
	if err != nil {
		return errors.Wrap(err, "open vote event")
	}

	markup := voteKeyboard(voteEvent.ID)
	edit := api.NewEditMessageTextAndMarkup(chat.ID, sent.MessageID, notification.Text, markup)
	if err := m.ops.EditMessage(ctx, edit); err != nil {
		return errors.Wrap(err, "attach vote keyboard")
	}
	return nil
}

func (m *Moderator) userContext(ctx context.Context, userID int64) string {
	rep, err := m.reputation.Get(ctx, userID)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("score=%d status=%s messages=%d chats=%d",
		rep.Score, rep.Status, rep.MessageCount, rep.ChatCount)
}

func (m *Moderator) handleVoteCallback(ctx context.Context, callback *api.CallbackQuery) {
	parts := strings.Split(callback.Data, ":")
	if len(parts) != 3 {
		return
	}
	eventID, voteKind := parts[1], parts[2]
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	voterID := callback.From.ID

	isAdmin, err := m.ops.IsChatAdmin(ctx, chatID, voterID)
	if err != nil {
		m.logger.Warn("cant resolve voter standing", zap.Error(err))
	}
	trusted := false
	if !isAdmin {
		if t, err := m.s.GetDB().IsTrustedUser(ctx, chatID, voterID); err == nil && t {
			trusted = true
		} else if rep, err := m.reputation.Get(ctx, voterID); err == nil && rep.Status == db.ReputationTrusted {
			trusted = true
		}
	}

	_, err = m.votes.AddVote(ctx, eventID, vote.Voter{
		ID:      voterID,
		IsAdmin: isAdmin,
		Trusted: trusted,
	}, voteKind == db.VoteResultSpam)

	answer := "Vote counted."
	switch {
	case errors.Is(err, vote.ErrNotEligible):
		answer = "Only admins and trusted members can vote."
	case errors.Is(err, vote.ErrDuplicate):
		answer = "You already voted."
	case errors.Is(err, vote.ErrClosed):
		answer = "Voting has ended."
	case err != nil:
		m.logger.Warn("cant add vote", zap.Error(err))
		answer = "Something went wrong."
	}
	if err := m.ops.AnswerCallback(ctx, callback.ID, answer); err != nil {
		m.logger.Warn("cant answer callback", zap.Error(err))
	}
}

func voteKeyboard(eventID string) api.InlineKeyboardMarkup {
	return api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("Spam", fmt.Sprintf("%s:%s:%s", voteCallbackPrefix, eventID, db.VoteResultSpam)),
			api.NewInlineKeyboardButtonData("Not spam", fmt.Sprintf("%s:%s:%s", voteCallbackPrefix, eventID, db.VoteResultClean)),
		),
	)
}

// snippet trims the quoted message for the vote notification, cutting on
// a rune boundary so multibyte text never ends mid-character.
func snippet(text string) string {
	const max = 200
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
