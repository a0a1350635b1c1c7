package judge

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/vigilbot/vigil/internal/adapters"
	"github.com/vigilbot/vigil/internal/adapters/llm"
)

type fakeLLM struct {
	name    string
	replies []string
	errs    []error
	calls   int
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) ChatCompletion(_ context.Context, _ []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.ChatCompletionResponse{}, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return llm.ChatCompletionResponse{Choices: []llm.ChatCompletionChoice{
		{Message: llm.ChatCompletionMessage{Role: llm.RoleAssistant, Content: reply}},
	}}, nil
}

func newJudge(t *testing.T, models ...*fakeLLM) *Judge {
	t.Helper()
	chain := make([]adapters.LLM, 0, len(models))
	for _, m := range models {
		chain = append(chain, m)
	}
	j, err := New(chain, 4, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJudgeParsesVerdict(t *testing.T) {
	t.Parallel()

	primary := &fakeLLM{name: "primary", replies: []string{`{"reason": "obvious ad", "spamScore": 93}`}}
	j := newJudge(t, primary)

	verdict, err := j.Judge(context.Background(), "buy now", Context{})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.SpamScore != 93 || verdict.Reason != "obvious ad" || verdict.Model != "primary" {
		t.Fatalf("verdict = %+v", verdict)
	}
}

func TestJudgeToleratesFencedJSON(t *testing.T) {
	t.Parallel()

	primary := &fakeLLM{name: "primary", replies: []string{
		"```json\n{\"reason\": \"ok\", \"spamScore\": 5}\n```",
	}}
	verdict, err := newJudge(t, primary).Judge(context.Background(), "hello", Context{})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.SpamScore != 5 {
		t.Fatalf("score = %d, want 5", verdict.SpamScore)
	}
}

func TestJudgeFallsBackToNextModel(t *testing.T) {
	t.Parallel()

	primary := &fakeLLM{name: "primary", errs: []error{errors.New("rate limited"), errors.New("rate limited")}}
	fallback := &fakeLLM{name: "fallback", replies: []string{`{"reason": "scam", "spamScore": 88}`}}

	verdict, err := newJudge(t, primary, fallback).Judge(context.Background(), "x", Context{})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Model != "fallback" {
		t.Fatalf("model = %s, want fallback", verdict.Model)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}
}

func TestJudgeExhaustionIsNoVerdict(t *testing.T) {
	t.Parallel()

	bad := &fakeLLM{name: "bad", replies: []string{"nonsense", "", "still nothing", "{broken"}}
	started := time.Now()
	_, err := newJudge(t, bad).Judge(context.Background(), "x", Context{})
	if !errors.Is(err, ErrNoVerdict) {
		t.Fatalf("err = %v, want ErrNoVerdict", err)
	}
	if bad.calls != 4 {
		t.Fatalf("calls = %d, want 4", bad.calls)
	}
	// Backoff 100+200+400ms between the four attempts.
	if elapsed := time.Since(started); elapsed < 700*time.Millisecond {
		t.Fatalf("elapsed = %s, want backoff to apply", elapsed)
	}
}

func TestJudgeRejectsOutOfRangeScore(t *testing.T) {
	t.Parallel()

	if _, err := parseVerdict(`{"reason": "x", "spamScore": 250}`); err == nil {
		t.Fatal("out of range score accepted")
	}
	if _, err := parseVerdict(`no json here`); err == nil {
		t.Fatal("missing JSON accepted")
	}
}
