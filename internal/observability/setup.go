package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance
	Logger *zap.Logger

	spamVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spam_verdicts_total",
			Help: "Total number of spam verdicts by resolving source",
		},
		[]string{"source"},
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "check_pipeline_duration_seconds",
			Help:    "Time spent running the spam check pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	voteResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_resolutions_total",
			Help: "Community vote resolutions by result and resolution kind",
		},
		[]string{"result", "resolved_by"},
	)

	scheduledDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_deletions_total",
			Help: "Scheduled deletion queue outcomes",
		},
		[]string{"outcome"},
	)

	judgeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_judge_attempts_total",
			Help: "LLM judge attempts by model and outcome",
		},
		[]string{"model", "outcome"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(
		spamVerdictsTotal,
		pipelineDuration,
		voteResolutionsTotal,
		scheduledDeletionsTotal,
		judgeAttemptsTotal,
	)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

func RecordVerdict(source string) {
	spamVerdictsTotal.WithLabelValues(source).Inc()
}

func RecordVoteResolution(result, resolvedBy string) {
	voteResolutionsTotal.WithLabelValues(result, resolvedBy).Inc()
}

func RecordDeletionOutcome(outcome string) {
	scheduledDeletionsTotal.WithLabelValues(outcome).Inc()
}

func RecordJudgeAttempt(model, outcome string) {
	judgeAttemptsTotal.WithLabelValues(model, outcome).Inc()
}

// StartPipeline returns a function recording the pipeline duration once
// the check completes.
func StartPipeline() func(status string) {
	start := time.Now()
	return func(status string) {
		pipelineDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
