package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required"`
		DefaultLanguage  string `env:"LANG,default=en"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		DotPath          string `env:"DOT_PATH,default=~/.vigil"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`

		LLM        LLM
		Embeddings Embeddings
		Vector     Vector
		Detection  Detection
		Voting     Voting
		Cleanup    Cleanup
		CAS        CAS
	}

	LLM struct {
		APIKey         string        `env:"LLM_API_KEY"`
		Model          string        `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		FallbackModels []string      `env:"LLM_FALLBACK_MODELS,default=gemini-1.5-flash"`
		BaseURL        string        `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		GeminiAPIKey   string        `env:"LLM_GEMINI_API_KEY"`
		RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT,default=20s"`
		MaxAttempts    int           `env:"LLM_MAX_ATTEMPTS,default=4"`
	}

	Embeddings struct {
		Provider  string `env:"EMBEDDINGS_PROVIDER,default=openai"`
		Model     string `env:"EMBEDDINGS_MODEL,default=text-embedding-3-small"`
		ModelsDir string `env:"EMBEDDINGS_MODELS_DIR,default=models"`
		LocalName string `env:"EMBEDDINGS_LOCAL_MODEL,default=sentence-transformers/all-MiniLM-L6-v2"`
	}

	Vector struct {
		Host       string `env:"QDRANT_HOST,default=localhost"`
		Port       int    `env:"QDRANT_PORT,default=6334"`
		APIKey     string `env:"QDRANT_API_KEY"`
		UseTLS     bool   `env:"QDRANT_TLS,default=false"`
		Collection string `env:"QDRANT_COLLECTION,default=spam_vectors"`
		VectorSize int    `env:"QDRANT_VECTOR_SIZE,default=1536"`
	}

	Detection struct {
		BaseConfidenceThreshold int  `env:"BASE_CONFIDENCE_THRESHOLD,default=72"`
		GlobalBanEnabled        bool `env:"GLOBAL_BAN_ENABLED,default=true"`
	}

	Voting struct {
		Quorum        int           `env:"VOTING_QUORUM,default=3"`
		AdminWeight   int           `env:"VOTING_ADMIN_WEIGHT,default=3"`
		TrustedWeight int           `env:"VOTING_TRUSTED_WEIGHT,default=1"`
		Timeout       time.Duration `env:"VOTING_TIMEOUT,default=5m"`
		SweepInterval time.Duration `env:"VOTING_SWEEP_INTERVAL,default=30s"`
	}

	Cleanup struct {
		SweepInterval   time.Duration `env:"CLEANUP_SWEEP_INTERVAL,default=10s"`
		InlineCutoff    time.Duration `env:"CLEANUP_INLINE_CUTOFF,default=15s"`
		RowTTL          time.Duration `env:"CLEANUP_ROW_TTL,default=48h"`
		NotificationTTL time.Duration `env:"CLEANUP_NOTIFICATION_TTL,default=2m"`
	}

	CAS struct {
		ExportURL    string        `env:"CAS_EXPORT_URL,default=https://api.cas.chat/export.csv"`
		LookupURL    string        `env:"CAS_LOOKUP_URL,default=https://api.cas.chat/check"`
		BatchSize    int           `env:"CAS_BATCH_SIZE,default=1000"`
		SyncInterval time.Duration `env:"CAS_SYNC_INTERVAL,default=6h"`
		HTTPTimeout  time.Duration `env:"CAS_HTTP_TIMEOUT,default=30s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("VG_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := homedir.Dir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
