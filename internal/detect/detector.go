package detect

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/detect/judge"
	"github.com/vigilbot/vigil/internal/detect/risk"
	"github.com/vigilbot/vigil/internal/detect/rules"
	"github.com/vigilbot/vigil/internal/detect/signature"
	"github.com/vigilbot/vigil/internal/detect/similarity"
	"github.com/vigilbot/vigil/internal/detect/velocity"
	"github.com/vigilbot/vigil/internal/observability"
)

// Verdict sources, strongest evidence first.
const (
	SourceDisabled   = "disabled"
	SourceTrusted    = "trusted"
	SourceBanlist    = "banlist"
	SourceRisk       = "risk"
	SourceRules      = "rules"
	SourceSignature  = "signature"
	SourceVelocity   = "velocity"
	SourceSimilarity = "similarity"
	SourceJudge      = "judge"
	SourceNoVerdict  = "no_verdict"
)

// CheckRequest is one message to classify.
type CheckRequest struct {
	Message  *api.Message
	Settings *db.Settings
}

// Verdict is the pipeline's answer. Confidence is 0-100; the decision
// policy maps it to an action.
type Verdict struct {
	IsSpam     bool
	Confidence int
	Reason     string
	Source     string
	Risk       risk.Assessment
}

type trustStore interface {
	GetCustomRules(ctx context.Context, chatID int64) ([]*db.CustomRule, error)
	IsTrustedUser(ctx context.Context, chatID, userID int64) (bool, error)
}

type banChecker interface {
	IsBanned(ctx context.Context, userID int64) (bool, error)
}

type signatureChecker interface {
	Check(ctx context.Context, text string) (*signature.Match, error)
}

type similarityClassifier interface {
	Classify(ctx context.Context, text string) (*similarity.Result, error)
}

type velocityChecker interface {
	Status(ctx context.Context, src *velocity.Source) (string, error)
}

type reputationReader interface {
	Get(ctx context.Context, userID int64) (*db.UserReputation, error)
}

type spamJudge interface {
	Judge(ctx context.Context, text string, info judge.Context) (*judge.Verdict, error)
}

// Detector runs the staged spam pipeline. Stages are ordered from
// cheapest to most expensive; each conclusive stage short-circuits the
// rest.
type Detector struct {
	store      trustStore
	reputation reputationReader
	cas        banChecker
	signatures signatureChecker
	velocity   velocityChecker
	similarity similarityClassifier
	judge      spamJudge
	logger     *zap.Logger
}

func NewDetector(
	store trustStore,
	reputation reputationReader,
	cas banChecker,
	signatures signatureChecker,
	velocityChk velocityChecker,
	similarityClf similarityClassifier,
	spamJdg spamJudge,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		store:      store,
		reputation: reputation,
		cas:        cas,
		signatures: signatures,
		velocity:   velocityChk,
		similarity: similarityClf,
		judge:      spamJdg,
		logger:     logger,
	}
}

// CheckSpam classifies one message. It never returns an error for
// degraded stages; a stage failure logs and falls through to the next
// stage, and total exhaustion yields a clean no-verdict.
func (d *Detector) CheckSpam(ctx context.Context, req CheckRequest) (verdict Verdict, err error) {
	ctx, span := otel.Tracer("detect").Start(ctx, "CheckSpam")
	defer span.End()
	done := observability.StartPipeline()
	defer func() {
		span.SetAttributes(
			attribute.String("verdict.source", verdict.Source),
			attribute.Bool("verdict.spam", verdict.IsSpam),
			attribute.Int("verdict.confidence", verdict.Confidence),
		)
		observability.RecordVerdict(verdict.Source)
		done(verdict.Source)
	}()

	if req.Settings != nil && !req.Settings.Enabled {
		return Verdict{Source: SourceDisabled}, nil
	}

	msg := req.Message
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	if skip, v := d.trustedSkip(ctx, chatID, userID); skip {
		return v, nil
	}

	if banned, err := d.cas.IsBanned(ctx, userID); err != nil {
		d.logger.Warn("banlist check failed", zap.Error(err))
	} else if banned {
		return Verdict{IsSpam: true, Confidence: 100, Reason: "known spammer", Source: SourceBanlist}, nil
	}

	assessment := risk.Assess(msg)
	if assessment.Level == risk.Skip {
		return Verdict{Source: SourceRisk, Risk: assessment}, nil
	}

	if v, ok := d.applyRules(ctx, chatID, text, assessment); ok {
		return v, nil
	}

	partial := 0

	match, err := d.signatures.Check(ctx, text)
	if err != nil {
		d.logger.Warn("signature check failed", zap.Error(err))
	}
	if match != nil {
		if match.Direct() {
			return Verdict{
				IsSpam:     true,
				Confidence: match.Confidence,
				Reason:     fmt.Sprintf("known spam template (%s match)", match.Layer),
				Source:     SourceSignature,
				Risk:       assessment,
			}, nil
		}
		partial = match.Confidence
	}

	src := velocity.FromMessage(msg)
	if src != nil {
		status, err := d.velocity.Status(ctx, src)
		if err != nil {
			d.logger.Warn("velocity check failed", zap.Error(err))
		} else if status == db.ForwardStatusBlacklisted {
			return Verdict{
				IsSpam:     true,
				Confidence: 95,
				Reason:     "forwarded from blacklisted source",
				Source:     SourceVelocity,
				Risk:       assessment,
			}, nil
		} else if status == db.ForwardStatusSuspicious && partial < 60 {
			partial = 60
		}
	}

	if text != "" {
		result, err := d.similarity.Classify(ctx, text)
		if err != nil {
			d.logger.Warn("similarity check failed", zap.Error(err))
		}
		if result != nil {
			switch {
			case result.Class == similarity.ClassSpam && result.Strong:
				return Verdict{
					IsSpam:     true,
					Confidence: int(result.Confidence * 100),
					Reason:     fmt.Sprintf("matches known spam (%.2f similarity)", result.Similarity),
					Source:     SourceSimilarity,
					Risk:       assessment,
				}, nil
			case result.Class == similarity.ClassClean && partial == 0 && assessment.Level != risk.High:
				return Verdict{Source: SourceSimilarity, Risk: assessment}, nil
			case result.Class == similarity.ClassSpam:
				if score := int(result.Confidence * 100); score > partial {
					partial = score
				}
			}
		}
	}

	if assessment.Level == risk.Low && partial == 0 {
		return Verdict{Source: SourceRisk, Risk: assessment}, nil
	}

	return d.askJudge(ctx, userID, text, assessment, partial, req.Settings)
}

func (d *Detector) trustedSkip(ctx context.Context, chatID, userID int64) (bool, Verdict) {
	if userID == 0 {
		return false, Verdict{}
	}
	if trusted, err := d.store.IsTrustedUser(ctx, chatID, userID); err != nil {
		d.logger.Warn("trusted lookup failed", zap.Error(err))
	} else if trusted {
		return true, Verdict{Source: SourceTrusted, Reason: "trusted user"}
	}

	rep, err := d.reputation.Get(ctx, userID)
	if err != nil {
		d.logger.Warn("reputation lookup failed", zap.Error(err))
		return false, Verdict{}
	}
	if rep.Status == db.ReputationTrusted {
		return true, Verdict{Source: SourceTrusted, Reason: "trusted reputation"}
	}
	return false, Verdict{}
}

func (d *Detector) applyRules(ctx context.Context, chatID int64, text string, assessment risk.Assessment) (Verdict, bool) {
	chatRules, err := d.store.GetCustomRules(ctx, chatID)
	if err != nil {
		d.logger.Warn("rules lookup failed", zap.Error(err))
	}
	hit := rules.Match(text, rules.Merged(chatRules))
	if hit == nil {
		return Verdict{}, false
	}
	if hit.Allowed {
		return Verdict{Source: SourceRules, Reason: rules.Describe(hit), Risk: assessment}, true
	}
	return Verdict{
		IsSpam:     true,
		Confidence: 100,
		Reason:     rules.Describe(hit),
		Source:     SourceRules,
		Risk:       assessment,
	}, true
}

// askJudge is the last resort. A no-verdict falls back to the strongest
// partial evidence, or clean when there is none.
func (d *Detector) askJudge(ctx context.Context, userID int64, text string, assessment risk.Assessment, partial int, settings *db.Settings) (Verdict, error) {
	info := judge.Context{}
	if rep, err := d.reputation.Get(ctx, userID); err == nil {
		info.MessageCount = rep.MessageCount
		info.GroupCount = rep.ChatCount
		info.ReputationBand = rep.Status
		if !rep.FirstSeenAt.IsZero() {
			info.AccountAgeDays = int(time.Since(rep.FirstSeenAt).Hours() / 24)
		}
	}
	for _, signal := range assessment.Signals {
		info.RiskSignals = append(info.RiskSignals, signal.Name)
	}

	result, err := d.judge.Judge(ctx, text, info)
	if err != nil {
		if !errors.Is(err, judge.ErrNoVerdict) {
			d.logger.Warn("judge failed", zap.Error(err))
		}
		if partial > 0 {
			return Verdict{
				IsSpam:     partial >= threshold(settings),
				Confidence: partial,
				Reason:     "weak evidence without model verdict",
				Source:     SourceNoVerdict,
				Risk:       assessment,
			}, nil
		}
		return Verdict{Source: SourceNoVerdict, Risk: assessment}, nil
	}

	confidence := result.SpamScore
	if partial > confidence {
		confidence = partial
	}
	return Verdict{
		IsSpam:     confidence >= threshold(settings),
		Confidence: confidence,
		Reason:     result.Reason,
		Source:     SourceJudge,
		Risk:       assessment,
	}, nil
}

func threshold(settings *db.Settings) int {
	if settings != nil && settings.ConfidenceThreshold > 0 {
		return settings.ConfidenceThreshold
	}
	return 72
}
