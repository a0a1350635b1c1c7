package telegram

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/vigilbot/vigil/internal/cleanup"
)

const restrictDuration = 24 * time.Hour

// Ops wraps the platform calls the moderation flow needs, classifying
// outcomes so callers never have to parse API error strings themselves.
type Ops struct {
	bot *api.BotAPI
}

func NewOps(bot *api.BotAPI) *Ops {
	return &Ops{bot: bot}
}

// DeleteMessage satisfies the deletion queue's Deleter.
func (o *Ops) DeleteMessage(ctx context.Context, chatID int64, messageID int) cleanup.Outcome {
	select {
	case <-ctx.Done():
		return cleanup.OutcomeFailed
	default:
	}

	_, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID))
	switch {
	case err == nil:
		return cleanup.OutcomeDeleted
	case isGoneError(err):
		return cleanup.OutcomeGone
	case isPermissionError(err):
		return cleanup.OutcomeNoPermission
	default:
		return cleanup.OutcomeFailed
	}
}

func (o *Ops) BanUser(ctx context.Context, chatID, userID int64, revokeMessages bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := o.bot.Request(api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		RevokeMessages: revokeMessages,
	})
	return errors.WithMessage(err, "cant ban")
}

func (o *Ops) UnbanUser(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := o.bot.Request(api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	})
	return errors.WithMessage(err, "cant unban")
}

// MuteUser removes all send permissions until the mute duration passes.
func (o *Ops) MuteUser(ctx context.Context, chatID, userID int64, duration time.Duration) error {
	return o.setPermissions(ctx, chatID, userID, duration, false)
}

func (o *Ops) RestrictUser(ctx context.Context, chatID, userID int64) error {
	return o.setPermissions(ctx, chatID, userID, restrictDuration, false)
}

func (o *Ops) UnrestrictUser(ctx context.Context, chatID, userID int64) error {
	return o.setPermissions(ctx, chatID, userID, time.Minute, true)
}

func (o *Ops) setPermissions(ctx context.Context, chatID, userID int64, duration time.Duration, allow bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := o.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		UntilDate: time.Now().Add(duration).Unix(),
		Permissions: &api.ChatPermissions{
			CanSendMessages:       allow,
			CanSendAudios:         allow,
			CanSendDocuments:      allow,
			CanSendPhotos:         allow,
			CanSendVideos:         allow,
			CanSendVideoNotes:     allow,
			CanSendVoiceNotes:     allow,
			CanSendPolls:          allow,
			CanSendOtherMessages:  allow,
			CanAddWebPagePreviews: allow,
			CanChangeInfo:         false,
			CanInviteUsers:        allow,
			CanPinMessages:        false,
			CanManageTopics:       false,
		},
	})
	if !allow {
		return errors.WithMessage(err, "cant restrict")
	}
	return errors.WithMessage(err, "cant unrestrict")
}

// HasProfilePhoto reports whether the user set at least one profile
// photo. A bare profile is one of the throwaway-account tells.
func (o *Ops) HasProfilePhoto(ctx context.Context, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	photos, err := o.bot.GetUserProfilePhotos(api.UserProfilePhotosConfig{UserID: userID, Limit: 1})
	if err != nil {
		return false, errors.WithMessage(err, "cant get profile photos")
	}
	return photos.TotalCount > 0, nil
}

// IsChatAdmin reports whether userID can administer chatID.
func (o *Ops) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return false, errors.WithMessage(err, "cant get chat member")
	}
	return member.IsCreator() || member.IsAdministrator(), nil
}

func (o *Ops) SendMessage(ctx context.Context, msg api.MessageConfig) (*api.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	sent, err := o.bot.Send(msg)
	if err != nil {
		return nil, errors.WithMessage(err, "cant send message")
	}
	return &sent, nil
}

func (o *Ops) EditMessage(ctx context.Context, edit api.EditMessageTextConfig) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := o.bot.Request(edit)
	return errors.WithMessage(err, "cant edit message")
}

// EditMessageText replaces a message's text and drops any inline
// keyboard it carried.
func (o *Ops) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	return o.EditMessage(ctx, api.NewEditMessageText(chatID, messageID, text))
}

func (o *Ops) AnswerCallback(ctx context.Context, callbackID, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := o.bot.Request(api.NewCallback(callbackID, text))
	return errors.WithMessage(err, "cant answer callback")
}

func isGoneError(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "message to delete not found") ||
		strings.Contains(text, "message can't be deleted") ||
		strings.Contains(text, "message_id_invalid")
}

func isPermissionError(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "not enough rights") ||
		strings.Contains(text, "have no rights") ||
		strings.Contains(text, "chat_admin_required") ||
		strings.Contains(text, "bot was kicked") ||
		strings.Contains(text, "bot is not a member")
}

// GetUN returns the best human-readable handle for a user.
func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return userName
}

// ExtractContent flattens a message's text, caption and button labels
// into one string for classification.
func ExtractContent(msg *api.Message) string {
	content := strings.TrimSpace(msg.Text + " " + msg.Caption)

	if msg.ReplyMarkup != nil {
		var buttonTexts []string
		for _, row := range msg.ReplyMarkup.InlineKeyboard {
			for _, button := range row {
				if button.Text != "" {
					buttonTexts = append(buttonTexts, button.Text)
				}
			}
		}
		if len(buttonTexts) > 0 {
			content = strings.TrimSpace(content + " " + strings.Join(buttonTexts, " "))
		}
	}
	return content
}
