package bot

import (
	"context"
	"strconv"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	cache "github.com/patrickmn/go-cache"

	"github.com/vigilbot/vigil/internal/db"
)

// How long chat settings stay cached before the next read hits the
// store.
const settingsTTL = time.Minute

type ServiceBot interface {
	GetBot() *api.BotAPI
}

type ServiceDB interface {
	GetDB() db.Client
}

type ServiceSettings interface {
	ChatSettings(ctx context.Context, chatID int64) (*db.Settings, error)
}

type Service interface {
	ServiceBot
	ServiceDB
	ServiceSettings
}

type service struct {
	bot      *api.BotAPI
	db       db.Client
	settings *cache.Cache
}

func NewService(bot *api.BotAPI, db db.Client) *service {
	return &service{
		bot:      bot,
		db:       db,
		settings: cache.New(settingsTTL, settingsTTL),
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// ChatSettings reads chat settings through a short-lived cache. Every
// message pays this lookup, so it must not hit the store each time.
func (s *service) ChatSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	key := strconv.FormatInt(chatID, 10)
	if cached, found := s.settings.Get(key); found {
		return cached.(*db.Settings), nil
	}
	settings, err := s.db.GetSettings(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.settings.SetDefault(key, settings)
	return settings, nil
}
