package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/services/jsonld"
)

// FetchWorker turns URL packages into structured-data blob packages
type FetchWorker struct {
	urls     interfaces.PackageQueue
	blobs    interfaces.PackageQueue
	fetcher  interfaces.PageFetcher
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   arbor.ILogger
}

// NewFetchWorker creates a new fetch worker
func NewFetchWorker(
	urls interfaces.PackageQueue,
	blobs interfaces.PackageQueue,
	fetcher interfaces.PageFetcher,
	m *metrics.Metrics,
	logger arbor.ILogger,
) *FetchWorker {
	return &FetchWorker{
		urls:     urls,
		blobs:    blobs,
		fetcher:  fetcher,
		validate: validator.New(),
		metrics:  m,
		logger:   logger,
	}
}

// Step pops one URL package, renders the page and publishes every JSON-LD blob found.
// Page failures drop the URL; only a failed publish leaves the message for redelivery.
func (w *FetchWorker) Step(ctx context.Context) (bool, error) {
	msg, err := w.urls.Receive(ctx)
	if errors.Is(err, models.ErrNoMessage) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to receive from %s: %w", w.urls.Name(), err)
	}
	// The claimed URL is processed and acked even if shutdown starts now
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	defer func() { w.metrics.ObserveStage("fetch", time.Since(start)) }()

	var pkg models.URLPackage
	if err := json.Unmarshal(msg.Payload, &pkg); err != nil || w.validate.Struct(&pkg) != nil {
		w.logger.Warn().Str("message_id", msg.ID).Msg("Dropping malformed URL package")
		w.metrics.RecordStage("fetch", "skipped")
		return true, w.urls.Ack(ctx, msg)
	}

	html, err := w.fetcher.FetchHTML(ctx, pkg.URL)
	if err != nil {
		w.logger.Warn().Err(err).Str("url", pkg.URL).Msg("Page fetch failed")
		w.metrics.RecordStage("fetch", "failed")
		return true, w.urls.Ack(ctx, msg)
	}

	blobs, invalid, err := jsonld.Extract(html)
	if err != nil {
		w.logger.Warn().Err(err).Str("url", pkg.URL).Msg("Structured data extraction failed")
		w.metrics.RecordStage("fetch", "failed")
		return true, w.urls.Ack(ctx, msg)
	}
	if invalid > 0 {
		w.logger.Debug().Str("url", pkg.URL).Int("invalid_blocks", invalid).Msg("Skipped undecodable JSON-LD blocks")
	}

	for _, blob := range blobs {
		out, err := json.Marshal(&models.BlobPackage{
			OriginatingURL: pkg.URL,
			RegionContext:  pkg.RegionContext,
			TermContext:    pkg.TermContext,
			Blob:           blob,
		})
		if err != nil {
			return true, fmt.Errorf("failed to encode blob package: %w", err)
		}
		if err := w.blobs.Push(ctx, out); err != nil {
			return true, fmt.Errorf("failed to publish blob for %s: %w", pkg.URL, err)
		}
	}

	outcome := "published"
	if len(blobs) == 0 {
		outcome = "empty"
	}
	w.metrics.RecordStage("fetch", outcome)
	w.logger.Debug().Str("url", pkg.URL).Int("blobs", len(blobs)).Msg("Page processed")

	return true, w.urls.Ack(ctx, msg)
}
