package risk

import (
	"net/url"
	"strings"
	"unicode/utf16"

	api "github.com/OvyFlash/telegram-bot-api"
)

type Level int

const (
	Skip Level = iota
	Low
	Medium
	High
)

func (l Level) String() string {
	switch l {
	case Skip:
		return "skip"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	}
	return "unknown"
}

const (
	SignalHiddenForward     = "hidden_forward"
	SignalDeceptiveLink     = "deceptive_link"
	SignalBotInjectedMarkup = "bot_injected_markup"
	SignalURLButtons        = "url_buttons"
	SignalForeignContact    = "foreign_contact"
	SignalChannelForward    = "channel_forward"
	SignalManyURLs          = "many_urls"
	SignalManyMentions      = "many_mentions"
	SignalInlineMarkup      = "inline_markup"
	SignalCaptionLinks      = "caption_links"

	TrustReply       = "reply"
	TrustPremium     = "premium"
	TrustUsername    = "username"
	TrustLongForm    = "long_form"
	TrustLinkPreview = "plain_preview"
)

type Signal struct {
	Name     string
	Weight   int
	Critical bool
}

type Assessment struct {
	Level        Level
	Signals      []Signal
	TrustSignals []string
}

func (a Assessment) Has(name string) bool {
	for _, s := range a.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Assess inspects message metadata for cheap suspicion and trust
// signals. It is deterministic, side-effect free and never panics on
// arbitrary message shapes.
func Assess(msg *api.Message) Assessment {
	if msg == nil {
		return Assessment{Level: Medium}
	}

	var (
		signals []Signal
		trust   []string
	)
	add := func(name string, weight int, critical bool) {
		signals = append(signals, Signal{Name: name, Weight: weight, Critical: critical})
	}

	entities := append(append([]api.MessageEntity{}, msg.Entities...), msg.CaptionEntities...)
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	urls, mentions := 0, 0
	for _, entity := range entities {
		switch entity.Type {
		case "url":
			urls++
		case "text_link":
			urls++
			if visible := entitySlice(text, entity); deceptiveLinkText(visible, entity.URL) {
				add(SignalDeceptiveLink, 2, true)
			}
		case "mention", "text_mention":
			mentions++
		}
	}

	if origin := msg.ForwardOrigin; origin != nil {
		switch origin.Type {
		case "hidden_user":
			add(SignalHiddenForward, 2, true)
		case "channel":
			add(SignalChannelForward, 1, false)
		}
	}

	if msg.ReplyMarkup != nil {
		urlButtons := 0
		for _, row := range msg.ReplyMarkup.InlineKeyboard {
			for _, button := range row {
				if button.URL != nil && *button.URL != "" {
					urlButtons++
				}
			}
		}
		if urlButtons >= 3 {
			add(SignalURLButtons, 2, true)
		} else {
			add(SignalInlineMarkup, 1, false)
		}
		if msg.ViaBot != nil {
			add(SignalBotInjectedMarkup, 2, true)
		}
	}

	if msg.Contact != nil && msg.From != nil && msg.Contact.UserID != 0 && msg.Contact.UserID != msg.From.ID {
		add(SignalForeignContact, 2, true)
	}

	if urls >= 3 {
		add(SignalManyURLs, 2, false)
	}
	if mentions >= 5 {
		add(SignalManyMentions, 1, false)
	}
	if msg.Caption != "" && urls > 0 && (msg.Photo != nil || msg.Video != nil) {
		add(SignalCaptionLinks, 2, false)
	}

	if msg.ReplyToMessage != nil {
		trust = append(trust, TrustReply)
	}
	if msg.From != nil {
		if msg.From.IsPremium {
			trust = append(trust, TrustPremium)
		}
		if msg.From.UserName != "" {
			trust = append(trust, TrustUsername)
		}
	}
	if len(text) >= 200 && urls == 0 {
		trust = append(trust, TrustLongForm)
	}

	mediaOnly := text == "" && (msg.Photo != nil || msg.Video != nil || msg.Sticker != nil || msg.Voice != nil || msg.VideoNote != nil)

	return Assessment{
		Level:        classify(signals, trust, mediaOnly),
		Signals:      signals,
		TrustSignals: trust,
	}
}

func classify(signals []Signal, trust []string, mediaOnly bool) Level {
	mediumWeight := 0
	for _, s := range signals {
		if s.Critical {
			return High
		}
		if s.Weight >= 2 {
			mediumWeight++
		}
	}

	switch {
	case len(signals) >= 3 || mediumWeight >= 2:
		return High
	case len(signals) == 0 && len(trust) >= 2:
		return Skip
	case len(trust) > len(signals) || mediaOnly:
		return Low
	default:
		return Medium
	}
}

// entitySlice extracts the visible text an entity covers. Entity offsets
// are in UTF-16 code units.
func entitySlice(text string, entity api.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	start, end := entity.Offset, entity.Offset+entity.Length
	if start < 0 || end > len(units) || start > end {
		return ""
	}
	return string(utf16.Decode(units[start:end]))
}

func deceptiveLinkText(visible, target string) bool {
	visible = strings.TrimSpace(strings.ToLower(visible))
	if visible == "" || target == "" {
		return false
	}
	if !strings.Contains(visible, ".") || strings.ContainsAny(visible, " \n") {
		return false
	}
	visibleHost := hostOf(visible)
	targetHost := hostOf(target)
	if visibleHost == "" || targetHost == "" {
		return false
	}
	return visibleHost != targetHost
}

func hostOf(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
