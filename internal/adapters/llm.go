package adapters

import (
	"context"

	"github.com/vigilbot/vigil/internal/adapters/llm"
)

// LLM defines the interface for language model operations
type LLM interface {
	// Name reports the model identity for logging and metrics.
	Name() string
	// ChatCompletion performs a chat completion request
	ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
