package similarity

import (
	"context"
	"time"
)

const (
	ClassSpam  = "spam"
	ClassClean = "clean"
)

// Neighbor is one stored example returned by a vector search.
type Neighbor struct {
	ID          string
	Score       float32
	Class       string
	Confidence  float64
	Hits        int64
	CreatedAt   time.Time
	LastMatched time.Time
}

// Point is a stored example as seen by maintenance scans.
type Point struct {
	ID          string
	Vector      []float32
	Class       string
	Confidence  float64
	Hits        int64
	CreatedAt   time.Time
	LastMatched time.Time
}

// VectorIndex is the storage surface the classifier needs. Backed by
// qdrant in production, faked in tests.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit uint64, minScore float32) ([]Neighbor, error)
	Add(ctx context.Context, vector []float32, class string, confidence float64) (string, error)
	BumpHits(ctx context.Context, id string, hits int64) error
	Scroll(ctx context.Context, offset string, limit uint32) ([]Point, string, error)
	Delete(ctx context.Context, ids []string) error
}
