package moderation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/cleanup"
	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/detect/signature"
	"github.com/vigilbot/vigil/internal/detect/similarity"
	"github.com/vigilbot/vigil/internal/detect/velocity"
	"github.com/vigilbot/vigil/internal/event"
	"github.com/vigilbot/vigil/internal/reputation"
	"github.com/vigilbot/vigil/internal/telegram"
	"github.com/vigilbot/vigil/internal/vote"
)

// voteConfirmedConfidence is what a community-confirmed example is worth
// in the vector index.
const voteConfirmedConfidence = 0.9

// Recorder feeds verdict outcomes back into the detection stores. It
// runs off the event bus so write-backs never block the update path.
type Recorder struct {
	store      db.Client
	signatures *signature.Store
	similarity *similarity.Classifier
	velocity   *velocity.Tracker
	reputation *reputation.Engine
	votes      *vote.Coordinator
	ops        *telegram.Ops
	queue      *cleanup.Queue
	cfg        Config
	logger     *zap.Logger
}

func NewRecorder(
	store db.Client,
	signatures *signature.Store,
	similarityClf *similarity.Classifier,
	velocityTracker *velocity.Tracker,
	reputationEng *reputation.Engine,
	votes *vote.Coordinator,
	ops *telegram.Ops,
	queue *cleanup.Queue,
	cfg Config,
	logger *zap.Logger,
) *Recorder {
	return &Recorder{
		store:      store,
		signatures: signatures,
		similarity: similarityClf,
		velocity:   velocityTracker,
		reputation: reputationEng,
		votes:      votes,
		ops:        ops,
		queue:      queue,
		cfg:        cfg,
		logger:     logger,
	}
}

// Register wires the recorder into the shared event bus.
func (r *Recorder) Register() {
	event.Subscribe(event.TypeSpamDetected, func(ev event.Queueable) {
		spam, ok := ev.(*event.SpamDetected)
		if !ok {
			return
		}
		defer spam.Process()
		r.onSpamDetected(context.Background(), spam)
	})
	event.Subscribe(event.TypeCleanSeen, func(ev event.Queueable) {
		clean, ok := ev.(*event.CleanSeen)
		if !ok {
			return
		}
		defer clean.Process()
		r.onCleanSeen(context.Background(), clean)
	})
	event.Subscribe(event.TypeVoteResolved, func(ev event.Queueable) {
		resolved, ok := ev.(*event.VoteResolved)
		if !ok || resolved.Event == nil {
			return
		}
		defer resolved.Process()
		r.onVoteResolved(context.Background(), resolved.Event)
	})
}

func (r *Recorder) onSpamDetected(ctx context.Context, ev *event.SpamDetected) {
	if ev.Text != "" {
		if _, err := r.signatures.Record(ctx, ev.Text, ev.ChatID); err != nil {
			r.logger.Warn("cant record signature", zap.Error(err))
		}
		if err := r.similarity.Record(ctx, ev.Text, similarity.ClassSpam, ev.Confidence); err != nil {
			r.logger.Warn("cant record spam vector", zap.Error(err))
		}
	}
	if ev.ForwardHash != "" {
		src := &velocity.Source{Hash: ev.ForwardHash, Type: ev.ForwardType}
		if _, err := r.velocity.ReportSpam(ctx, src, ev.ChatID); err != nil {
			r.logger.Warn("cant report forward source", zap.Error(err))
		}
	}
	if _, err := r.reputation.OnSpamVerdict(ctx, ev.UserID, ev.ChatID); err != nil {
		r.logger.Warn("cant apply spam penalty", zap.Error(err))
	}
	if _, err := r.reputation.OnDeletion(ctx, ev.UserID, ev.ChatID); err != nil {
		r.logger.Warn("cant apply deletion penalty", zap.Error(err))
	}
}

func (r *Recorder) onCleanSeen(ctx context.Context, ev *event.CleanSeen) {
	if err := r.reputation.OnCleanVerdict(ctx, ev.UserID, ev.ChatID); err != nil {
		r.logger.Warn("cant bump clean counter", zap.Error(err))
	}
	if ev.ForwardHash != "" {
		src := &velocity.Source{Hash: ev.ForwardHash, Type: ev.ForwardType}
		if _, err := r.velocity.ReportClean(ctx, src, ev.ChatID); err != nil {
			r.logger.Warn("cant report clean forward", zap.Error(err))
		}
	}
}

func (r *Recorder) onVoteResolved(ctx context.Context, ev *db.VoteEvent) {
	switch ev.Result {
	case db.VoteResultSpam:
		r.onVotedSpam(ctx, ev)
	case db.VoteResultClean:
		r.onVotedClean(ctx, ev)
	default:
		return
	}
	r.updateNotification(ctx, ev)
}

// onVotedSpam confirms the automated verdict: the message is already
// gone, so the remaining work is corpus reinforcement and, when the
// user keeps getting confirmed, the global ban.
func (r *Recorder) onVotedSpam(ctx context.Context, ev *db.VoteEvent) {
	if ev.MessageText != "" {
		if _, err := r.signatures.Confirm(ctx, ev.MessageText, ev.ChatID); err != nil {
			r.logger.Warn("cant confirm signature", zap.Error(err))
		}
		if err := r.similarity.Record(ctx, ev.MessageText, similarity.ClassSpam, voteConfirmedConfidence); err != nil {
			r.logger.Warn("cant record confirmed vector", zap.Error(err))
		}
	}
	if _, err := r.reputation.OnSpamVerdict(ctx, ev.TargetUserID, ev.ChatID); err != nil {
		r.logger.Warn("cant apply confirmed spam penalty", zap.Error(err))
	}

	if !r.cfg.GlobalBanEnabled {
		return
	}
	if settings, err := r.store.GetSettings(ctx, ev.ChatID); err == nil && settings.GlobalBanOptOut {
		return
	}
	confirmed, err := r.votes.ConfirmedSpamVotes(ctx, ev.TargetUserID)
	if err != nil {
		r.logger.Warn("cant count confirmed votes", zap.Error(err))
		return
	}
	rep, err := r.reputation.Get(ctx, ev.TargetUserID)
	if err != nil {
		return
	}
	if confirmed >= 2 && rep.Status == db.ReputationRestricted {
		if err := r.ops.BanUser(ctx, ev.ChatID, ev.TargetUserID, true); err != nil {
			r.logger.Warn("cant ban repeat offender", zap.Error(err))
		}
	}
}

// onVotedClean reverses the automated action and marks the user trusted
// so the pipeline skips them from now on.
func (r *Recorder) onVotedClean(ctx context.Context, ev *db.VoteEvent) {
	if err := r.ops.UnbanUser(ctx, ev.ChatID, ev.TargetUserID); err != nil {
		r.logger.Warn("cant unban user", zap.Error(err))
	}
	if err := r.ops.UnrestrictUser(ctx, ev.ChatID, ev.TargetUserID); err != nil {
		r.logger.Warn("cant unrestrict user", zap.Error(err))
	}
	if _, err := r.reputation.OnManualUnban(ctx, ev.TargetUserID, ev.ChatID); err != nil {
		r.logger.Warn("cant credit unban", zap.Error(err))
	}
	if err := r.reputation.ResetTrusted(ctx, ev.TargetUserID); err != nil {
		r.logger.Warn("cant reset reputation", zap.Error(err))
	}
	if err := r.store.SetTrustedUser(ctx, ev.ChatID, ev.TargetUserID, true); err != nil {
		r.logger.Warn("cant mark user trusted", zap.Error(err))
	}
	if ev.MessageText != "" {
		if err := r.similarity.Record(ctx, ev.MessageText, similarity.ClassClean, voteConfirmedConfidence); err != nil {
			r.logger.Warn("cant record clean vector", zap.Error(err))
		}
	}
}

func (r *Recorder) updateNotification(ctx context.Context, ev *db.VoteEvent) {
	if ev.NotificationMessageID == 0 {
		return
	}
	text := fmt.Sprintf("Community verdict for %s: not spam.", ev.TargetDisplay)
	if ev.Result == db.VoteResultSpam {
		text = fmt.Sprintf("Community verdict for %s: spam.", ev.TargetDisplay)
	}
	if err := r.ops.EditMessageText(ctx, ev.ChatID, ev.NotificationMessageID, text); err != nil {
		r.logger.Warn("cant update vote notification", zap.Error(err))
	}

	ttl := r.cfg.NotificationTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if err := r.queue.Schedule(ctx, ev.ChatID, ev.NotificationMessageID, ttl, "vote_notification", ev.ID); err != nil {
		r.logger.Warn("cant schedule notification cleanup", zap.Error(err))
	}
}

// busResolver forwards vote resolutions onto the event bus. The
// coordinator calls it inline; the recorder picks the event up async.
type busResolver struct{}

func NewBusResolver() vote.Resolver {
	return busResolver{}
}

func (busResolver) OnVoteResolved(_ context.Context, ev *db.VoteEvent) {
	event.Bus.NQ(event.NewVoteResolved(ev))
}
