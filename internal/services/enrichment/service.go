package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
	"golang.org/x/time/rate"
)

// minDescriptionLength below which there is nothing worth mining
const minDescriptionLength = 20

// Stats counts one backfill pass
type Stats struct {
	Fetched   int
	Processed int
	Failed    int
	Skipped   int
}

// Service runs the enrichment backfill over pending clean records
type Service struct {
	events   interfaces.EventStorage
	provider interfaces.EnrichmentProvider
	limiter  *rate.Limiter
	fields   []string
	batch    int
	metrics  *metrics.Metrics
	logger   arbor.ILogger
}

// NewService creates a new enrichment service
func NewService(
	events interfaces.EventStorage,
	provider interfaces.EnrichmentProvider,
	config *common.EnrichmentConfig,
	m *metrics.Metrics,
	logger arbor.ILogger,
) *Service {
	interval := common.MustDuration(config.RateLimit, time.Second)
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	batch := config.BatchSize
	if batch <= 0 {
		batch = 20
	}
	return &Service{
		events:   events,
		provider: provider,
		limiter:  rate.NewLimiter(limit, 1),
		fields:   DefaultFields,
		batch:    batch,
		metrics:  m,
		logger:   logger,
	}
}

// Backfill enriches up to limit pending records. Per-record failures are recorded, not returned.
func (s *Service) Backfill(ctx context.Context, limit int) (*Stats, error) {
	if limit <= 0 {
		limit = s.batch
	}
	records, err := s.events.ListPendingEnrichment(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending enrichment: %w", err)
	}

	stats := &Stats{Fetched: len(records)}
	recordCtx := context.WithoutCancel(ctx)
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		status := s.enrich(recordCtx, record)
		switch status {
		case models.EnrichmentProcessed:
			stats.Processed++
		case models.EnrichmentSkipped:
			stats.Skipped++
		default:
			stats.Failed++
		}
		s.metrics.RecordEnrichment(s.provider.Name(), string(status))
	}

	if stats.Fetched > 0 {
		s.logger.Info().
			Str("provider", s.provider.Name()).
			Int("fetched", stats.Fetched).
			Int("processed", stats.Processed).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Msg("Enrichment pass complete")
	}
	return stats, nil
}

func (s *Service) enrich(ctx context.Context, record *models.CleanEventRecord) models.EnrichmentStatus {
	if len(strings.TrimSpace(record.Description)) < minDescriptionLength {
		s.apply(ctx, record.ID, &models.EnrichmentUpdate{Status: models.EnrichmentSkipped})
		return models.EnrichmentSkipped
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.EnrichmentFailed
	}

	var extracted map[string]interface{}
	err := common.CapturePanic(s.logger, "enrichment", func() error {
		var err error
		extracted, err = s.provider.Extract(ctx, &interfaces.EnrichmentRequest{
			EventID:         record.ID,
			Title:           record.Title,
			Description:     record.Description,
			FieldsToExtract: s.fields,
		})
		return err
	})
	if err != nil {
		s.logger.Warn().Err(err).Int64("clean_id", record.ID).Msg("Enrichment extraction failed")
		s.apply(ctx, record.ID, &models.EnrichmentUpdate{Status: models.EnrichmentFailed})
		return models.EnrichmentFailed
	}

	update := BuildUpdate(record, extracted)
	if !s.apply(ctx, record.ID, update) {
		return models.EnrichmentFailed
	}
	return models.EnrichmentProcessed
}

func (s *Service) apply(ctx context.Context, id int64, update *models.EnrichmentUpdate) bool {
	if err := s.events.ApplyEnrichment(ctx, id, update); err != nil {
		s.logger.Error().Err(err).Int64("clean_id", id).Str("status", string(update.Status)).Msg("Failed to store enrichment")
		return false
	}
	return true
}

// BuildUpdate maps extracted values onto the record. Price and currency only fill gaps;
// everything else lands in the enrichment map.
func BuildUpdate(record *models.CleanEventRecord, extracted map[string]interface{}) *models.EnrichmentUpdate {
	update := &models.EnrichmentUpdate{
		Status:     models.EnrichmentProcessed,
		Enrichment: make(map[string]interface{}),
	}

	for key, value := range extracted {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}

		switch key {
		case "price":
			if record.PriceVal == nil {
				if v, err := cast.ToFloat64E(value); err == nil {
					update.PriceVal = &v
					continue
				}
			}
		case "price_currency":
			if record.PriceCcy == "" {
				if ccy := strings.ToUpper(strings.TrimSpace(cast.ToString(value))); ccy != "" {
					if len(ccy) > 3 {
						ccy = ccy[:3]
					}
					update.PriceCcy = ccy
					continue
				}
			}
		}
		update.Enrichment[key] = value
	}
	return update
}
