package detect

import (
	"context"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/internal/detect/judge"
	"github.com/vigilbot/vigil/internal/detect/signature"
	"github.com/vigilbot/vigil/internal/detect/similarity"
	"github.com/vigilbot/vigil/internal/detect/velocity"
)

type stubStore struct {
	rules   []*db.CustomRule
	trusted bool
}

func (s *stubStore) GetCustomRules(context.Context, int64) ([]*db.CustomRule, error) {
	return s.rules, nil
}

func (s *stubStore) IsTrustedUser(context.Context, int64, int64) (bool, error) {
	return s.trusted, nil
}

type stubReputation struct{ rep *db.UserReputation }

func (s *stubReputation) Get(_ context.Context, userID int64) (*db.UserReputation, error) {
	if s.rep != nil {
		return s.rep, nil
	}
	return &db.UserReputation{UserID: userID, Score: 50, Status: db.ReputationNeutral}, nil
}

type stubBanlist struct{ banned bool }

func (s *stubBanlist) IsBanned(context.Context, int64) (bool, error) { return s.banned, nil }

type stubSignatures struct{ match *signature.Match }

func (s *stubSignatures) Check(context.Context, string) (*signature.Match, error) {
	return s.match, nil
}

type stubVelocity struct{ status string }

func (s *stubVelocity) Status(context.Context, *velocity.Source) (string, error) {
	if s.status == "" {
		return db.ForwardStatusClean, nil
	}
	return s.status, nil
}

type stubSimilarity struct{ result *similarity.Result }

func (s *stubSimilarity) Classify(context.Context, string) (*similarity.Result, error) {
	return s.result, nil
}

type stubJudge struct {
	verdict *judge.Verdict
	err     error
	calls   int
}

func (s *stubJudge) Judge(context.Context, string, judge.Context) (*judge.Verdict, error) {
	s.calls++
	return s.verdict, s.err
}

type fixture struct {
	store      *stubStore
	reputation *stubReputation
	banlist    *stubBanlist
	signatures *stubSignatures
	velocity   *stubVelocity
	similarity *stubSimilarity
	judge      *stubJudge
}

func newFixture() *fixture {
	return &fixture{
		store:      &stubStore{},
		reputation: &stubReputation{},
		banlist:    &stubBanlist{},
		signatures: &stubSignatures{},
		velocity:   &stubVelocity{},
		similarity: &stubSimilarity{},
		judge:      &stubJudge{err: judge.ErrNoVerdict},
	}
}

func (f *fixture) detector() *Detector {
	return NewDetector(f.store, f.reputation, f.banlist, f.signatures, f.velocity, f.similarity, f.judge, zap.NewNop())
}

func plainMessage(text string) *api.Message {
	return &api.Message{
		Text: text,
		Chat: api.Chat{ID: -100},
		From: &api.User{ID: 7},
	}
}

func check(t *testing.T, f *fixture, msg *api.Message) Verdict {
	t.Helper()
	verdict, err := f.detector().CheckSpam(context.Background(), CheckRequest{
		Message:  msg,
		Settings: &db.Settings{ID: -100, Enabled: true, ConfidenceThreshold: 72},
	})
	if err != nil {
		t.Fatal(err)
	}
	return verdict
}

func TestTrustedReputationBypassesPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.reputation.rep = &db.UserReputation{UserID: 7, Score: 80, Status: db.ReputationTrusted}
	f.judge.verdict = &judge.Verdict{Reason: "x", SpamScore: 99}
	f.judge.err = nil

	verdict := check(t, f, plainMessage("free money visit my channel"))
	if verdict.IsSpam || verdict.Source != SourceTrusted {
		t.Fatalf("verdict = %+v, want trusted skip", verdict)
	}
	if f.judge.calls != 0 {
		t.Fatal("judge consulted for trusted user")
	}
}

func TestBanlistedUserIsInstantSpam(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.banlist.banned = true
	verdict := check(t, f, plainMessage("hello"))
	if !verdict.IsSpam || verdict.Source != SourceBanlist || verdict.Confidence != 100 {
		t.Fatalf("verdict = %+v, want banlist spam", verdict)
	}
}

func TestDenyRuleShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.rules = []*db.CustomRule{{Kind: db.RuleDeny, Pattern: "casino bonus"}}
	verdict := check(t, f, plainMessage("grab your casino bonus today"))
	if !verdict.IsSpam || verdict.Source != SourceRules {
		t.Fatalf("verdict = %+v, want rules spam", verdict)
	}
	if f.judge.calls != 0 {
		t.Fatal("judge consulted after deny rule")
	}
}

func TestConfirmedSignatureShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.signatures.match = &signature.Match{
		Signature:  &db.SpamSignature{Status: db.SignatureStatusConfirmed},
		Layer:      signature.LayerNormalized,
		Confidence: 95,
	}
	verdict := check(t, f, plainMessage("some known template"))
	if !verdict.IsSpam || verdict.Source != SourceSignature || verdict.Confidence != 95 {
		t.Fatalf("verdict = %+v, want signature spam", verdict)
	}
}

func TestBlacklistedForwardSource(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.velocity.status = db.ForwardStatusBlacklisted
	msg := plainMessage("look at this")
	msg.ForwardOrigin = &api.MessageOrigin{Type: "hidden_user", SenderUserName: "anon"}

	verdict := check(t, f, msg)
	if !verdict.IsSpam || verdict.Source != SourceVelocity {
		t.Fatalf("verdict = %+v, want velocity spam", verdict)
	}
}

func TestStrongSimilarityShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.similarity.result = &similarity.Result{
		Class:      similarity.ClassSpam,
		Strong:     true,
		Similarity: 0.91,
		Confidence: 0.9,
	}
	verdict := check(t, f, plainMessage("promo text nobody saw before"))
	if !verdict.IsSpam || verdict.Source != SourceSimilarity || verdict.Confidence != 90 {
		t.Fatalf("verdict = %+v, want similarity spam", verdict)
	}
	if f.judge.calls != 0 {
		t.Fatal("judge consulted after strong similarity")
	}
}

func TestJudgeDecidesUncertainMessages(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.judge.verdict = &judge.Verdict{Reason: "investment bait", SpamScore: 84}
	f.judge.err = nil

	// Risky enough to reach the judge.
	msg := plainMessage("transfer usdt to triple it fast")
	msg.Entities = []api.MessageEntity{
		{Type: "url", Offset: 0, Length: 5},
		{Type: "url", Offset: 6, Length: 5},
		{Type: "url", Offset: 12, Length: 5},
	}

	verdict := check(t, f, msg)
	if !verdict.IsSpam || verdict.Source != SourceJudge || verdict.Confidence != 84 {
		t.Fatalf("verdict = %+v, want judge spam at 84", verdict)
	}
}

func TestNoVerdictFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := plainMessage("transfer usdt to triple it fast")
	msg.Entities = []api.MessageEntity{
		{Type: "url", Offset: 0, Length: 5},
		{Type: "url", Offset: 6, Length: 5},
		{Type: "url", Offset: 12, Length: 5},
	}

	verdict := check(t, f, msg)
	if verdict.IsSpam || verdict.Source != SourceNoVerdict {
		t.Fatalf("verdict = %+v, want clean no-verdict", verdict)
	}
	if f.judge.calls == 0 {
		t.Fatal("judge never consulted")
	}
}
