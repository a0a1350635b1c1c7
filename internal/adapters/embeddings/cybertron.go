package embeddings

import (
	"context"
	"fmt"

	"github.com/nlpodyssey/cybertron/pkg/models/bert"
	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
)

// Cybertron encodes text with a local sentence-transformer model, used
// when no remote embeddings API is configured.
type Cybertron struct {
	model textencoding.Interface
}

func NewCybertron(modelsDir, modelName string) (*Cybertron, error) {
	model, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir:           modelsDir,
		ModelName:           modelName,
		DownloadPolicy:      tasks.DownloadMissing,
		ConversionPolicy:    tasks.ConvertMissing,
		ConversionPrecision: tasks.F32,
	})
	if err != nil {
		return nil, fmt.Errorf("load text encoding model: %w", err)
	}
	return &Cybertron{model: model}, nil
}

func (c *Cybertron) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.model.Encode(ctx, text, int(bert.MeanPooling))
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	data := result.Vector.Data().F64()
	vec := make([]float32, len(data))
	for i, v := range data {
		vec[i] = float32(v)
	}
	return vec, nil
}
