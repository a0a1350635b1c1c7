package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigilbot/vigil/internal/adapters"
	"github.com/vigilbot/vigil/internal/adapters/embeddings"
	"github.com/vigilbot/vigil/internal/adapters/llm/gemini"
	"github.com/vigilbot/vigil/internal/adapters/llm/openai"
	"github.com/vigilbot/vigil/internal/bot"
	"github.com/vigilbot/vigil/internal/cas"
	"github.com/vigilbot/vigil/internal/cleanup"
	"github.com/vigilbot/vigil/internal/config"
	"github.com/vigilbot/vigil/internal/db/sqlite"
	"github.com/vigilbot/vigil/internal/detect"
	"github.com/vigilbot/vigil/internal/detect/judge"
	"github.com/vigilbot/vigil/internal/detect/signature"
	"github.com/vigilbot/vigil/internal/detect/similarity"
	"github.com/vigilbot/vigil/internal/detect/velocity"
	"github.com/vigilbot/vigil/internal/event"
	"github.com/vigilbot/vigil/internal/handlers/moderation"
	"github.com/vigilbot/vigil/internal/infra"
	"github.com/vigilbot/vigil/internal/lifecycle"
	"github.com/vigilbot/vigil/internal/observability"
	"github.com/vigilbot/vigil/internal/reputation"
	"github.com/vigilbot/vigil/internal/telegram"
	"github.com/vigilbot/vigil/internal/vote"
)

const maintenanceInterval = time.Hour

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.VgFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithField("error", err.Error()).Fatalln("cant init observability")
	}
	defer event.RunWorker()()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithField("error", err.Error()).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	dbClient, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(), "vigil.db")
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant open database")
	}
	defer dbClient.Close()

	service := bot.NewService(botAPI, dbClient)
	ops := telegram.NewOps(botAPI)

	index, err := similarity.NewQdrantIndex(ctx, similarity.IndexConfig{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		APIKey:     cfg.Vector.APIKey,
		UseTLS:     cfg.Vector.UseTLS,
		Collection: cfg.Vector.Collection,
		VectorSize: uint64(cfg.Vector.VectorSize),
	})
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant connect vector index")
	}
	similarityClf := similarity.NewClassifier(newEmbedder(cfg), index, observability.Logger)

	signatures := signature.NewStore(dbClient)
	velocityTracker := velocity.NewTracker(dbClient)
	reputationEng := reputation.NewEngine(dbClient)

	casService := cas.NewService(dbClient, cas.Config{
		ExportURL:    cfg.CAS.ExportURL,
		LookupURL:    cfg.CAS.LookupURL,
		BatchSize:    int64(cfg.CAS.BatchSize),
		SyncInterval: cfg.CAS.SyncInterval,
		HTTPTimeout:  cfg.CAS.HTTPTimeout,
	})

	spamJudge, err := judge.New(newJudgeModels(ctx, cfg), cfg.LLM.MaxAttempts, cfg.LLM.RequestTimeout)
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant initialize judge")
	}

	detector := detect.NewDetector(
		dbClient, reputationEng, casService, signatures,
		velocityTracker, similarityClf, spamJudge, observability.Logger,
	)

	queue := cleanup.NewQueue(dbClient, ops, cleanup.Config{
		SweepInterval: cfg.Cleanup.SweepInterval,
		InlineCutoff:  cfg.Cleanup.InlineCutoff,
		RowTTL:        cfg.Cleanup.RowTTL,
	}, observability.Logger)

	votes := vote.NewCoordinator(dbClient, vote.Config{
		Quorum:        cfg.Voting.Quorum,
		AdminWeight:   cfg.Voting.AdminWeight,
		TrustedWeight: cfg.Voting.TrustedWeight,
		Timeout:       cfg.Voting.Timeout,
		SweepInterval: cfg.Voting.SweepInterval,
	}, moderation.NewBusResolver(), observability.Logger)

	modCfg := moderation.Config{
		BaseConfidenceThreshold: cfg.Detection.BaseConfidenceThreshold,
		GlobalBanEnabled:        cfg.Detection.GlobalBanEnabled,
		NotificationTTL:         cfg.Cleanup.NotificationTTL,
	}
	moderator := moderation.NewModerator(service, ops, detector, reputationEng, votes, queue, modCfg, observability.Logger)
	recorder := moderation.NewRecorder(
		dbClient, signatures, similarityClf, velocityTracker,
		reputationEng, votes, ops, queue, modCfg, observability.Logger,
	)
	recorder.Register()

	bot.RegisterUpdateHandler("moderation", moderator)

	runtime := lifecycle.NewRuntime(
		lifecycle.Funcs{
			OnStart: func(ctx context.Context) error { queue.Start(ctx); return nil },
			OnStop:  func(context.Context) error { queue.Stop(); return nil },
		},
		lifecycle.Funcs{
			OnStart: func(ctx context.Context) error { votes.Start(ctx); return nil },
			OnStop:  func(context.Context) error { votes.Stop(); return nil },
		},
		lifecycle.Funcs{
			OnStart: func(ctx context.Context) error { casService.Start(ctx); return nil },
			OnStop:  func(context.Context) error { casService.Stop(); return nil },
		},
		newMaintenance(signatures, velocityTracker, similarityClf),
	)
	if err := runtime.Start(ctx); err != nil {
		log.WithField("error", err.Error()).Fatalln("cant start components")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Errorln("unclean shutdown")
		}
	}()

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateProcessor := bot.NewUpdateProcessor(service, "moderation")

	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
	for {
		select {
		case err := <-errorChan:
			log.WithField("error", err.Error()).Fatalln("bot api get updates error")
		case update := <-updateChan:
			if err := updateProcessor.Process(ctx, &update); err != nil {
				log.WithField("error", err.Error()).Errorln("cant process update")
			}
		case <-ctx.Done():
			log.Infoln("no more updates")
			return
		}
	}
}

func newEmbedder(cfg config.Config) adapters.Embedder {
	switch cfg.Embeddings.Provider {
	case "local":
		embedder, err := embeddings.NewCybertron(infra.GetWorkDir(cfg.Embeddings.ModelsDir), cfg.Embeddings.LocalName)
		if err != nil {
			log.WithField("error", err.Error()).Fatalln("cant load local embedding model")
		}
		return embedder
	default:
		return embeddings.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.Embeddings.Model)
	}
}

// newJudgeModels builds the judge's model chain, primary first. Gemini
// model names route to the Gemini adapter, everything else to the
// OpenAI-compatible one.
func newJudgeModels(ctx context.Context, cfg config.Config) []adapters.LLM {
	names := append([]string{cfg.LLM.Model}, cfg.LLM.FallbackModels...)
	models := make([]adapters.LLM, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if strings.HasPrefix(name, "gemini") {
			if cfg.LLM.GeminiAPIKey == "" {
				log.Warnf("skipping model %q: no gemini api key", name)
				continue
			}
			model, err := gemini.NewGemini(ctx, cfg.LLM.GeminiAPIKey, name, log.WithField("context", "gemini"))
			if err != nil {
				log.WithField("error", err.Error()).Warnf("cant initialize model %q", name)
				continue
			}
			models = append(models, model)
			continue
		}
		models = append(models, openai.NewOpenAI(cfg.LLM.APIKey, name, cfg.LLM.BaseURL, log.WithField("context", "openai")))
	}
	return models
}

// newMaintenance runs the periodic retention sweeps: expired signatures
// and forward sources, and vector index pruning.
func newMaintenance(
	signatures *signature.Store,
	velocityTracker *velocity.Tracker,
	similarityClf *similarity.Classifier,
) lifecycle.Component {
	var cancelFunc context.CancelFunc
	return lifecycle.Funcs{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(ctx)
			cancelFunc = cancel
			go infra.GoRecoverable(-1, "maintenance", func() {
				ticker := time.NewTicker(maintenanceInterval)
				defer ticker.Stop()
				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						runMaintenance(runCtx, signatures, velocityTracker, similarityClf)
					}
				}
			})
			return nil
		},
		OnStop: func(context.Context) error {
			if cancelFunc != nil {
				cancelFunc()
			}
			return nil
		},
	}
}

func runMaintenance(
	ctx context.Context,
	signatures *signature.Store,
	velocityTracker *velocity.Tracker,
	similarityClf *similarity.Classifier,
) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if n, err := signatures.PurgeExpired(gctx); err != nil {
			log.WithField("error", err.Error()).Errorln("cant purge signatures")
		} else if n > 0 {
			log.Debugf("purged %d expired signatures", n)
		}
		return nil
	})
	g.Go(func() error {
		if n, err := velocityTracker.PurgeExpired(gctx); err != nil {
			log.WithField("error", err.Error()).Errorln("cant purge forward sources")
		} else if n > 0 {
			log.Debugf("purged %d expired forward sources", n)
		}
		return nil
	})
	g.Go(func() error {
		stats, err := similarityClf.Maintain(gctx)
		if err != nil {
			log.WithField("error", err.Error()).Errorln("cant maintain vector index")
			return nil
		}
		if stats.Pruned > 0 || stats.Merged > 0 {
			observability.Logger.Info("vector index maintenance",
				zap.Int("pruned", stats.Pruned),
				zap.Int("merged", stats.Merged),
			)
		}
		return nil
	})
	_ = g.Wait()
}
