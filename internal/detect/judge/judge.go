package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vigilbot/vigil/internal/adapters"
	"github.com/vigilbot/vigil/internal/adapters/llm"
	"github.com/vigilbot/vigil/internal/observability"
	"github.com/vigilbot/vigil/resources"
)

// ErrNoVerdict means every model and retry was exhausted. Callers must
// treat it as "unknown", never as spam or clean.
var ErrNoVerdict = errors.New("judge: no verdict")

const backoffBase = 100 * time.Millisecond

// Verdict is the judge's structured answer.
type Verdict struct {
	Reason    string `json:"reason"`
	SpamScore int    `json:"spamScore"`
	Model     string `json:"-"`
}

// Context is the minimal sender background forwarded with the text.
type Context struct {
	AccountAgeDays int
	MessageCount   int
	GroupCount     int
	ReputationBand string
	RiskSignals    []string
}

// Judge asks a chain of completion models for a spam score, falling
// through the chain on failure with exponential backoff between rounds.
type Judge struct {
	models      []adapters.LLM
	maxAttempts int
	callTimeout time.Duration
	prompt      string
}

func New(models []adapters.LLM, maxAttempts int, callTimeout time.Duration) (*Judge, error) {
	if len(models) == 0 {
		return nil, errors.New("judge: no models configured")
	}
	prompt, err := resources.FS.ReadFile("prompts/judge.txt")
	if err != nil {
		return nil, errors.Wrap(err, "read judge prompt")
	}
	return &Judge{
		models:      models,
		maxAttempts: maxAttempts,
		callTimeout: callTimeout,
		prompt:      string(prompt),
	}, nil
}

// Judge scores text. Attempts rotate through the model chain; attempt n
// sleeps backoffBase<<(n-1) first. Exhaustion returns ErrNoVerdict
// wrapping the last failure.
func (j *Judge) Judge(ctx context.Context, text string, info Context) (*Verdict, error) {
	messages := []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: j.prompt},
		{Role: llm.RoleUser, Content: buildUserMessage(text, info)},
	}

	var lastErr error
	for attempt := 0; attempt < j.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffBase << uint(attempt-1)):
			case <-ctx.Done():
				return nil, errors.Wrap(ErrNoVerdict, ctx.Err().Error())
			}
		}

		model := j.models[attempt%len(j.models)]
		verdict, err := j.ask(ctx, model, messages)
		if err == nil {
			observability.RecordJudgeAttempt(model.Name(), "ok")
			return verdict, nil
		}
		observability.RecordJudgeAttempt(model.Name(), "error")
		log.WithField("error", err.Error()).WithField("model", model.Name()).
			WithField("attempt", attempt+1).Warn("judge attempt failed")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return nil, errors.Wrap(ErrNoVerdict, lastErr.Error())
}

func (j *Judge) ask(ctx context.Context, model adapters.LLM, messages []llm.ChatCompletionMessage) (*Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
	defer cancel()

	resp, err := model.ChatCompletion(callCtx, messages)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response")
	}
	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	verdict.Model = model.Name()
	return verdict, nil
}

// parseVerdict extracts the JSON object from a completion, tolerating
// code fences and prose around it.
func parseVerdict(content string) (*Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", truncate(content, 80))
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return nil, errors.Wrap(err, "parse verdict")
	}
	if verdict.SpamScore < 0 || verdict.SpamScore > 100 {
		return nil, fmt.Errorf("spam score %d out of range", verdict.SpamScore)
	}
	return &verdict, nil
}

func buildUserMessage(text string, info Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sender: account age %d days, %d messages across %d groups, reputation %s.\n",
		info.AccountAgeDays, info.MessageCount, info.GroupCount, info.ReputationBand)
	if len(info.RiskSignals) > 0 {
		fmt.Fprintf(&b, "Signals: %s.\n", strings.Join(info.RiskSignals, ", "))
	}
	b.WriteString("Message:\n")
	b.WriteString(text)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
