package similarity

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// Points with too few hits and no match activity for this long are
	// pruned.
	pruneAge     = 90 * 24 * time.Hour
	pruneMaxHits = 2

	scrollPageSize = 256
)

// MaintenanceStats summarizes one index maintenance pass.
type MaintenanceStats struct {
	Scanned int
	Pruned  int
	Merged  int
}

// Maintain scans the whole index once, pruning stale low-traffic
// examples and folding near-duplicate same-class pairs into one point.
func (c *Classifier) Maintain(ctx context.Context) (MaintenanceStats, error) {
	stats := MaintenanceStats{}
	cutoff := time.Now().Add(-pruneAge)
	removed := map[string]bool{}

	offset := ""
	for {
		points, next, err := c.index.Scroll(ctx, offset, scrollPageSize)
		if err != nil {
			return stats, errors.Wrap(err, "scroll index")
		}
		stats.Scanned += len(points)

		var prune []string
		for _, point := range points {
			if removed[point.ID] {
				continue
			}
			// Matches refresh LastMatched, so age is measured from the
			// last time the point was useful, not from insertion.
			lastActive := point.LastMatched
			if lastActive.IsZero() {
				lastActive = point.CreatedAt
			}
			if point.Hits <= pruneMaxHits && !lastActive.IsZero() && lastActive.Before(cutoff) {
				prune = append(prune, point.ID)
				removed[point.ID] = true
				continue
			}
			merged, err := c.mergeDuplicates(ctx, point, removed)
			if err != nil {
				c.logger.Warn("merge pass failed", zap.String("id", point.ID), zap.Error(err))
				continue
			}
			stats.Merged += merged
		}

		if len(prune) > 0 {
			if err := c.index.Delete(ctx, prune); err != nil {
				return stats, errors.Wrap(err, "prune points")
			}
			stats.Pruned += len(prune)
		}

		if next == "" {
			break
		}
		offset = next
	}
	return stats, nil
}

// mergeDuplicates folds same-class neighbors closer than the merge
// threshold into point, which absorbs their hit counts.
func (c *Classifier) mergeDuplicates(ctx context.Context, point Point, removed map[string]bool) (int, error) {
	if len(point.Vector) == 0 {
		return 0, nil
	}
	neighbors, err := c.index.Search(ctx, point.Vector, searchLimit, mergeThreshold)
	if err != nil {
		return 0, err
	}

	var (
		victims []string
		gained  int64
	)
	for _, n := range neighbors {
		if n.ID == point.ID || n.Class != point.Class || removed[n.ID] {
			continue
		}
		// Keep the busier point so the absorbed traffic stays visible.
		if n.Hits > point.Hits {
			continue
		}
		victims = append(victims, n.ID)
		removed[n.ID] = true
		gained += n.Hits
	}
	if len(victims) == 0 {
		return 0, nil
	}
	if err := c.index.Delete(ctx, victims); err != nil {
		return 0, err
	}
	if err := c.index.BumpHits(ctx, point.ID, point.Hits+gained); err != nil {
		return len(victims), err
	}
	return len(victims), nil
}
