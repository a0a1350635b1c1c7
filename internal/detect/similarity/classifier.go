package similarity

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vigilbot/vigil/internal/adapters"
)

const (
	// Cosine similarity cutoffs against stored examples.
	SpamStrongThreshold = 0.88
	SpamWeakThreshold   = 0.83
	CleanThreshold      = 0.85

	// Stored spam examples below this confidence never count as a match,
	// strong or weak.
	minNeighborConfidence = 0.80

	// A new example this close to a stored same-class one reinforces it
	// instead of adding a near-duplicate point.
	mergeThreshold = 0.95

	searchLimit = 8
	searchFloor = float32(SpamWeakThreshold)
)

// Result is a similarity classification. Class is empty when no stored
// example is close enough to say anything.
type Result struct {
	Class      string
	Strong     bool
	Similarity float32
	Confidence float64
	NeighborID string
}

// Classifier matches message embeddings against previously labeled
// examples.
type Classifier struct {
	embedder adapters.Embedder
	index    VectorIndex
	logger   *zap.Logger
}

func NewClassifier(embedder adapters.Embedder, index VectorIndex, logger *zap.Logger) *Classifier {
	return &Classifier{embedder: embedder, index: index, logger: logger}
}

// Classify embeds text and compares it with stored examples. A strong
// spam result stands on its own; weak spam and clean results are
// evidence for downstream stages.
func (c *Classifier) Classify(ctx context.Context, text string) (*Result, error) {
	vector, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "embed text")
	}
	return c.ClassifyVector(ctx, vector)
}

func (c *Classifier) ClassifyVector(ctx context.Context, vector []float32) (*Result, error) {
	neighbors, err := c.index.Search(ctx, vector, searchLimit, searchFloor)
	if err != nil {
		return nil, errors.Wrap(err, "search index")
	}

	var bestSpam, bestClean *Neighbor
	for i := range neighbors {
		n := &neighbors[i]
		switch n.Class {
		case ClassSpam:
			if bestSpam == nil || n.Score > bestSpam.Score {
				bestSpam = n
			}
		case ClassClean:
			if bestClean == nil || n.Score > bestClean.Score {
				bestClean = n
			}
		}
	}

	if bestSpam != nil && float64(bestSpam.Score) >= SpamStrongThreshold && bestSpam.Confidence > minNeighborConfidence {
		c.bumpHits(ctx, bestSpam)
		return &Result{
			Class:      ClassSpam,
			Strong:     true,
			Similarity: bestSpam.Score,
			Confidence: matchedConfidence(bestSpam),
			NeighborID: bestSpam.ID,
		}, nil
	}

	// Below the strong band, a close clean example wins outright even
	// when a spam neighbor scores higher.
	if bestClean != nil && float64(bestClean.Score) >= CleanThreshold {
		c.bumpHits(ctx, bestClean)
		return &Result{
			Class:      ClassClean,
			Similarity: bestClean.Score,
			Confidence: float64(bestClean.Score),
			NeighborID: bestClean.ID,
		}, nil
	}

	if bestSpam != nil && float64(bestSpam.Score) >= SpamWeakThreshold && bestSpam.Confidence > minNeighborConfidence {
		c.bumpHits(ctx, bestSpam)
		return &Result{
			Class:      ClassSpam,
			Similarity: bestSpam.Score,
			Confidence: matchedConfidence(bestSpam),
			NeighborID: bestSpam.ID,
		}, nil
	}
	return nil, nil
}

// Record stores a labeled example. Near-duplicates of an existing
// same-class example reinforce it instead of growing the index.
func (c *Classifier) Record(ctx context.Context, text, class string, confidence float64) error {
	vector, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return errors.Wrap(err, "embed text")
	}

	neighbors, err := c.index.Search(ctx, vector, 1, mergeThreshold)
	if err != nil {
		return errors.Wrap(err, "search index")
	}
	if len(neighbors) > 0 && neighbors[0].Class == class {
		return c.index.BumpHits(ctx, neighbors[0].ID, neighbors[0].Hits+1)
	}

	if _, err := c.index.Add(ctx, vector, class, confidence); err != nil {
		return errors.Wrap(err, "add example")
	}
	return nil
}

// bumpHits is best effort; a lost increment only delays pruning.
func (c *Classifier) bumpHits(ctx context.Context, n *Neighbor) {
	if err := c.index.BumpHits(ctx, n.ID, n.Hits+1); err != nil {
		c.logger.Warn("bump hits failed", zap.String("id", n.ID), zap.Error(err))
	}
}

func matchedConfidence(n *Neighbor) float64 {
	inherited := n.Confidence * 0.95
	if own := float64(n.Score); own > inherited {
		return own
	}
	return inherited
}
