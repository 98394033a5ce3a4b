package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/tempo/internal/services/enrichment"
	"github.com/ternarybob/tempo/internal/services/normalize"
)

// NormalizeStep processes one batch of awaiting raw records.
// A batch where no status could be written is an error so Drain does not spin on the same rows.
func NormalizeStep(n *normalize.Normalizer, batchSize int) Step {
	return func(ctx context.Context) (bool, error) {
		stats, err := n.ProcessBatch(ctx, batchSize)
		if err != nil {
			return false, err
		}
		if stats.Stalled() {
			return false, fmt.Errorf("normalize batch made no progress: %d records could not be marked", stats.Unrecorded)
		}
		return stats.Fetched > 0, nil
	}
}

// EnrichStep processes one batch of clean records awaiting enrichment
func EnrichStep(s *enrichment.Service, batchSize int) Step {
	return func(ctx context.Context) (bool, error) {
		stats, err := s.Backfill(ctx, batchSize)
		if err != nil {
			return false, err
		}
		return stats.Fetched > 0, nil
	}
}
