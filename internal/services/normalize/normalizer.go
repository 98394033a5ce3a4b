// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 4:47:02 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package normalize turns admitted raw event records into deduplicated, geolocated clean records.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
)

// BatchStats counts the outcomes of one batch
type BatchStats struct {
	Fetched   int
	Processed int
	Duplicate int
	NoEvents  int
	Errors    int
	// Unrecorded counts records whose terminal status could not be written.
	// They stay awaiting and come back in the next batch.
	Unrecorded int
	Stopped    bool // cancelled before the whole batch was attempted
}

// Attempted is the number of records that went through ProcessRecord
func (b *BatchStats) Attempted() int {
	return b.Processed + b.Duplicate + b.NoEvents + b.Errors
}

// Stalled reports a batch where no attempted record reached a persisted terminal status
func (b *BatchStats) Stalled() bool {
	attempted := b.Attempted()
	return attempted > 0 && b.Unrecorded == attempted
}

// Normalizer runs the raw -> clean transformation
type Normalizer struct {
	events   interfaces.EventStorage
	resolver interfaces.VenueResolver
	locator  interfaces.RegionLocator
	config   *common.NormalizeConfig
	tagger   *Tagger
	cities   *CityMatcher
	scorer   *Scorer
	metrics  *metrics.Metrics
	logger   arbor.ILogger
	now      func() time.Time
}

// NewNormalizer creates a new normalizer. resolver may be nil when geocoding is disabled.
func NewNormalizer(
	events interfaces.EventStorage,
	resolver interfaces.VenueResolver,
	locator interfaces.RegionLocator,
	config *common.NormalizeConfig,
	m *metrics.Metrics,
	logger arbor.ILogger,
) *Normalizer {
	return &Normalizer{
		events:   events,
		resolver: resolver,
		locator:  locator,
		config:   config,
		tagger:   NewTagger(config.Tags),
		cities:   NewCityMatcher(config.KnownCities),
		scorer:   NewScorer(config.Score, config.TrustedSources),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Transform builds the clean record for a raw record without persisting anything
func (n *Normalizer) Transform(ctx context.Context, raw *models.RawEventRecord) (*models.CleanEventRecord, error) {
	f, err := ExtractFields(raw.Source, raw.Payload)
	if err != nil {
		return nil, err
	}

	geo := n.resolveLocation(ctx, raw, f)

	metroID, err := n.assignRegion(ctx, raw, geo)
	if err != nil {
		return nil, err
	}

	fingerprint, err := Fingerprint(f.Title, f.Start, metroID, n.config.FingerprintLength)
	if err != nil {
		return nil, err
	}

	clean := &models.CleanEventRecord{
		EventRawID:       raw.ID,
		Source:           raw.Source,
		SourceEventID:    raw.SourceEventID,
		Title:            f.Title,
		Description:      f.Description,
		URL:              f.URL,
		StartTS:          f.Start,
		EndTS:            f.End,
		VenueName:        f.VenueName,
		VenueAddress:     f.VenueAddress,
		VenueGeometry:    geo,
		ImageURL:         f.ImageURL,
		Tags:             n.tagger.Tags(f.Title, f.Description, f.VenueName),
		MetroID:          metroID,
		PriceVal:         f.PriceVal,
		PriceCcy:         f.PriceCcy,
		Fingerprint:      fingerprint,
		EnrichmentStatus: models.EnrichmentPending,
		CreatedAt:        n.now().UTC(),
	}
	clean.QualityScore = n.scorer.Score(clean)
	return clean, nil
}

// resolveLocation returns payload coordinates, else a geocoded address, else a city-level
// geocode. Returns nil when nothing resolves; geocoding failures never fail the record.
func (n *Normalizer) resolveLocation(ctx context.Context, raw *models.RawEventRecord, f *Fields) *models.Point {
	if f.Geo != nil {
		return f.Geo
	}
	if n.resolver == nil {
		return nil
	}

	hint := n.countryHint(ctx, raw, f)
	city := n.recoverCity(f)

	if f.HasAnyAddress || f.VenueName != "" {
		req := &models.GeocodeRequest{
			VenueName:   f.VenueName,
			City:        city,
			CountryHint: hint,
		}
		if f.Address != nil {
			req.Street = f.Address.Street
			req.PostalCode = f.Address.PostalCode
			req.Region = f.Address.Region
		} else {
			req.Address = f.VenueAddress
		}

		p, stop := n.geocode(ctx, raw, req)
		if p != nil || stop {
			return p
		}
	}

	if city == "" {
		return nil
	}
	country := hint
	if f.Address != nil && f.Address.Country != "" {
		country = f.Address.Country
	}
	fallback := city
	if country != "" {
		fallback = city + ", " + country
	}
	p, _ := n.geocode(ctx, raw, &models.GeocodeRequest{
		City:        city,
		Address:     fallback,
		CountryHint: hint,
	})
	return p
}

// geocode calls the resolver. stop is true when the quota is exhausted.
func (n *Normalizer) geocode(ctx context.Context, raw *models.RawEventRecord, req *models.GeocodeRequest) (*models.Point, bool) {
	result, err := n.resolver.Resolve(ctx, req)
	switch {
	case errors.Is(err, models.ErrQuotaExhausted):
		n.logger.Warn().Int64("raw_id", raw.ID).Msg("Geocoding quota exhausted - continuing without coordinates")
		return nil, true
	case err != nil:
		n.logger.Warn().Err(err).Int64("raw_id", raw.ID).Msg("Geocoding failed")
		return nil, false
	case result == nil:
		return nil, false
	}

	p := models.Point{Lat: result.Lat, Lon: result.Lon}
	if !p.Valid() {
		return nil, false
	}
	return &p, false
}

// countryHint prefers the country of the record's region hint, then a two-letter address country
func (n *Normalizer) countryHint(ctx context.Context, raw *models.RawEventRecord, f *Fields) string {
	if raw.MetroID != nil && n.locator != nil {
		code, err := n.locator.CountryCode(ctx, *raw.MetroID)
		if err != nil {
			n.logger.Debug().Err(err).Int64("metro_id", *raw.MetroID).Msg("Country lookup failed")
		}
		if code != "" {
			return strings.ToUpper(code)
		}
	}
	if f.Address != nil && len(f.Address.Country) == 2 {
		return strings.ToUpper(f.Address.Country)
	}
	return ""
}

func (n *Normalizer) recoverCity(f *Fields) string {
	if f.Address != nil && f.Address.Locality != "" {
		return f.Address.Locality
	}
	if city := n.cities.FromAddress(f.VenueAddress); city != "" {
		return city
	}
	return n.cities.FromTitle(f.Title)
}

// assignRegion runs the containment query, falling back to the record's region hint
func (n *Normalizer) assignRegion(ctx context.Context, raw *models.RawEventRecord, geo *models.Point) (int64, error) {
	if geo != nil && n.locator != nil {
		metro, err := n.locator.Locate(ctx, *geo)
		switch {
		case err == nil && metro != nil:
			return metro.ID, nil
		case err != nil && !errors.Is(err, models.ErrNotFound):
			n.logger.Warn().Err(err).Int64("raw_id", raw.ID).Msg("Region containment query failed")
		}
	}
	if raw.MetroID != nil && *raw.MetroID > 0 {
		return *raw.MetroID, nil
	}
	return 0, models.ErrMissingRegion
}

// ProcessRecord normalizes one raw record and writes its terminal status.
// The returned error describes why the record ended in error; the status is already persisted.
func (n *Normalizer) ProcessRecord(ctx context.Context, raw *models.RawEventRecord) (models.NormalizationStatus, error) {
	status, _, err := n.processRecord(ctx, raw)
	return status, err
}

// processRecord also reports whether the terminal status reached the store
func (n *Normalizer) processRecord(ctx context.Context, raw *models.RawEventRecord) (models.NormalizationStatus, bool, error) {
	start := n.now()
	defer func() { n.metrics.ObserveStage("normalize", n.now().Sub(start)) }()

	var clean *models.CleanEventRecord
	err := common.CapturePanic(n.logger, fmt.Sprintf("normalize raw %d", raw.ID), func() error {
		var err error
		clean, err = n.Transform(ctx, raw)
		return err
	})
	if err != nil {
		status := models.StatusError
		if errors.Is(err, models.ErrNoEvent) {
			status = models.StatusNoEvents
		}
		recorded := n.markFailed(ctx, raw.ID, status)
		n.metrics.RecordStage("normalize", string(status))
		return status, recorded, err
	}

	status, err := n.events.CommitNormalized(ctx, clean)
	if err != nil {
		recorded := n.markFailed(ctx, raw.ID, models.StatusError)
		n.metrics.RecordStage("normalize", string(models.StatusError))
		return models.StatusError, recorded, err
	}

	n.metrics.RecordStage("normalize", string(status))
	n.logger.Debug().
		Int64("raw_id", raw.ID).
		Int64("metro_id", clean.MetroID).
		Str("fingerprint", clean.Fingerprint).
		Str("status", string(status)).
		Int("score", clean.QualityScore).
		Msg("Raw record normalized")
	return status, true, nil
}

func (n *Normalizer) markFailed(ctx context.Context, rawID int64, status models.NormalizationStatus) bool {
	if err := n.events.MarkNormalized(ctx, rawID, status); err != nil {
		n.logger.Error().Err(err).Int64("raw_id", rawID).Msg("Failed to record normalization status")
		return false
	}
	return true
}

// ProcessBatch normalizes up to limit of the oldest awaiting records, each on its own.
// Cancelling ctx stops the batch between records; the record in progress always completes.
func (n *Normalizer) ProcessBatch(ctx context.Context, limit int) (*BatchStats, error) {
	if limit <= 0 {
		limit = n.config.BatchSize
	}
	records, err := n.events.ListAwaitingNormalization(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting records: %w", err)
	}

	stats := &BatchStats{Fetched: len(records)}
	recordCtx := context.WithoutCancel(ctx)
	for _, raw := range records {
		if ctx.Err() != nil {
			stats.Stopped = true
			break
		}

		status, recorded, err := n.processRecord(recordCtx, raw)
		if !recorded {
			stats.Unrecorded++
		}
		switch status {
		case models.StatusProcessed:
			stats.Processed++
		case models.StatusDuplicate:
			stats.Duplicate++
		case models.StatusNoEvents:
			stats.NoEvents++
		default:
			stats.Errors++
		}
		if err != nil && status == models.StatusError {
			n.logger.Warn().Err(err).Int64("raw_id", raw.ID).Str("source", raw.Source).Msg("Normalization failed")
		}
	}

	if stats.Fetched > 0 {
		n.logger.Info().
			Int("fetched", stats.Fetched).
			Int("processed", stats.Processed).
			Int("duplicate", stats.Duplicate).
			Int("no_events", stats.NoEvents).
			Int("errors", stats.Errors).
			Int("unrecorded", stats.Unrecorded).
			Bool("stopped", stats.Stopped).
			Msg("Normalize batch complete")
	}
	return stats, nil
}

// RequeueErrors puts every raw record in the given terminal status back into the queue
func (n *Normalizer) RequeueErrors(ctx context.Context, status models.NormalizationStatus) (int, error) {
	if status == "" {
		status = models.StatusError
	}
	if !status.Terminal() {
		return 0, fmt.Errorf("cannot requeue non-terminal status %q", status)
	}
	count, err := n.events.ResetNormalization(ctx, status)
	if err != nil {
		return 0, err
	}
	n.logger.Info().Str("status", string(status)).Int("count", count).Msg("Raw records requeued for normalization")
	return count, nil
}
