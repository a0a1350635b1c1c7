package similarity

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex stores labeled message embeddings in a qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// IndexConfig carries the qdrant connection and collection parameters.
type IndexConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

func NewQdrantIndex(ctx context.Context, cfg IndexConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(clientConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

func clientConfig(cfg IndexConfig) *qdrant.Config {
	return &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit uint64, minScore float32) ([]Neighbor, error) {
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		ScoreThreshold: qdrant.PtrOf(minScore),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(points))
	for _, point := range points {
		neighbor := neighborFromPayload(point.GetPayload())
		neighbor.ID = point.GetId().GetUuid()
		neighbor.Score = point.GetScore()
		neighbors = append(neighbors, neighbor)
	}
	return neighbors, nil
}

func (q *QdrantIndex) Add(ctx context.Context, vector []float32, class string, confidence float64) (string, error) {
	id := uuid.NewRandom().String()
	now := time.Now().Unix()
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"class":        class,
				"confidence":   confidence,
				"hits":         int64(1),
				"created_at":   now,
				"last_matched": now,
			}),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("upsert point: %w", err)
	}
	return id, nil
}

// BumpHits counts one more match and refreshes the point's last-matched
// time, which is what keeps busy examples out of the maintenance prune.
func (q *QdrantIndex) BumpHits(ctx context.Context, id string, hits int64) error {
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Payload: qdrant.NewValueMap(map[string]any{
			"hits":         hits,
			"last_matched": time.Now().Unix(),
		}),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("set payload: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Scroll(ctx context.Context, offset string, limit uint32) ([]Point, string, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if offset != "" {
		req.Offset = qdrant.NewID(offset)
	}
	retrieved, err := q.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("scroll points: %w", err)
	}

	points := make([]Point, 0, len(retrieved))
	for _, rp := range retrieved {
		neighbor := neighborFromPayload(rp.GetPayload())
		points = append(points, Point{
			ID:          rp.GetId().GetUuid(),
			Vector:      rp.GetVectors().GetVector().GetData(),
			Class:       neighbor.Class,
			Confidence:  neighbor.Confidence,
			Hits:        neighbor.Hits,
			CreatedAt:   neighbor.CreatedAt,
			LastMatched: neighbor.LastMatched,
		})
	}

	next := ""
	if len(retrieved) == int(limit) && len(points) > 0 {
		next = points[len(points)-1].ID
	}
	return points, next, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

func neighborFromPayload(payload map[string]*qdrant.Value) Neighbor {
	n := Neighbor{}
	if v, ok := payload["class"]; ok {
		n.Class = v.GetStringValue()
	}
	if v, ok := payload["confidence"]; ok {
		n.Confidence = v.GetDoubleValue()
	}
	if v, ok := payload["hits"]; ok {
		n.Hits = v.GetIntegerValue()
	}
	if v, ok := payload["created_at"]; ok {
		n.CreatedAt = time.Unix(v.GetIntegerValue(), 0)
	}
	if v, ok := payload["last_matched"]; ok {
		n.LastMatched = time.Unix(v.GetIntegerValue(), 0)
	}
	return n
}
