package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/services/jsonld"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseStats are the running admission counters
type ParseStats struct {
	Processed  int64 `json:"processed"`
	Inserted   int64 `json:"inserted"`
	Duplicates int64 `json:"duplicates"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
}

// ParseWorker admits plausible event blobs into the raw record store
type ParseWorker struct {
	blobs    interfaces.PackageQueue
	events   interfaces.EventStorage
	source   string
	approved map[string]bool
	interval int64
	validate *validator.Validate
	stats    ParseStats
	metrics  *metrics.Metrics
	logger   arbor.ILogger
	now      func() time.Time
}

// NewParseWorker creates a new parse worker
func NewParseWorker(
	blobs interfaces.PackageQueue,
	events interfaces.EventStorage,
	config *common.ParseConfig,
	m *metrics.Metrics,
	logger arbor.ILogger,
) *ParseWorker {
	approved := make(map[string]bool, len(config.ApprovedTypes))
	for _, t := range config.ApprovedTypes {
		approved[strings.TrimSpace(t)] = true
	}
	source := config.Source
	if source == "" {
		source = models.SourceJSONLDScrape
	}
	return &ParseWorker{
		blobs:    blobs,
		events:   events,
		source:   source,
		approved: approved,
		interval: int64(config.StatsInterval),
		validate: validator.New(),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Stats returns a snapshot of the counters
func (w *ParseWorker) Stats() ParseStats {
	return ParseStats{
		Processed:  atomic.LoadInt64(&w.stats.Processed),
		Inserted:   atomic.LoadInt64(&w.stats.Inserted),
		Duplicates: atomic.LoadInt64(&w.stats.Duplicates),
		Skipped:    atomic.LoadInt64(&w.stats.Skipped),
		Failed:     atomic.LoadInt64(&w.stats.Failed),
	}
}

// Step pops one blob package and inserts it as a raw record. Rejected packages are acked and
// dropped; a storage failure leaves the message for redelivery.
func (w *ParseWorker) Step(ctx context.Context) (bool, error) {
	msg, err := w.blobs.Receive(ctx)
	if errors.Is(err, models.ErrNoMessage) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to receive from %s: %w", w.blobs.Name(), err)
	}
	ctx = context.WithoutCancel(ctx)

	processed := atomic.AddInt64(&w.stats.Processed, 1)
	defer func() {
		if w.interval > 0 && processed%w.interval == 0 {
			w.logStats()
		}
	}()

	record, reason := w.admit(msg.Payload)
	if record == nil {
		w.count(&w.stats.Skipped, "skipped")
		w.logger.Debug().Str("message_id", msg.ID).Str("reason", reason).Msg("Blob package skipped")
		return true, w.blobs.Ack(ctx, msg)
	}

	inserted, err := w.events.InsertRaw(ctx, record)
	if err != nil {
		w.count(&w.stats.Failed, "failed")
		return true, fmt.Errorf("failed to insert raw record %s: %w", *record.SourceEventID, err)
	}
	if inserted {
		w.count(&w.stats.Inserted, "inserted")
	} else {
		w.count(&w.stats.Duplicates, "duplicate")
	}

	return true, w.blobs.Ack(ctx, msg)
}

// admit validates a package and builds its raw record. A nil record comes with the reason.
func (w *ParseWorker) admit(payload []byte) (*models.RawEventRecord, string) {
	var pkg models.BlobPackage
	if err := json.Unmarshal(payload, &pkg); err != nil {
		return nil, "malformed package"
	}
	if err := w.validate.Struct(&pkg); err != nil {
		return nil, "missing url, region or blob"
	}

	var blob map[string]interface{}
	if err := json.Unmarshal(pkg.Blob, &blob); err != nil {
		return nil, "blob is not an object"
	}
	if !w.approvedType(jsonld.Types(blob)) {
		return nil, "type not approved"
	}

	doc := gjson.ParseBytes(pkg.Blob)
	if firstText(doc.Get("name")) == "" && firstText(doc.Get("title")) == "" {
		return nil, "missing name"
	}
	if _, ok := common.ParseTimestamp(firstText(doc.Get("startDate"))); !ok {
		return nil, "missing or unparseable startDate"
	}

	stored, err := sjson.SetBytes(pkg.Blob, "_discovery_context", map[string]interface{}{
		"originating_url": pkg.OriginatingURL,
		"region_context":  *pkg.RegionContext,
		"term_context":    pkg.TermContext,
	})
	if err != nil {
		return nil, "blob could not be annotated"
	}

	id := ProducerID(doc, pkg.OriginatingURL)
	now := w.now().UTC()
	return &models.RawEventRecord{
		Source:        w.source,
		SourceEventID: &id,
		MetroID:       pkg.RegionContext,
		Payload:       stored,
		DiscoveredAt:  now,
		ParsedAt:      &now,
	}, ""
}

func (w *ParseWorker) approvedType(types []string) bool {
	for _, t := range types {
		if w.approved[t] {
			return true
		}
	}
	return false
}

func (w *ParseWorker) count(counter *int64, outcome string) {
	atomic.AddInt64(counter, 1)
	w.metrics.RecordStage("parse", outcome)
}

func (w *ParseWorker) logStats() {
	s := w.Stats()
	w.logger.Info().
		Int64("processed", s.Processed).
		Int64("inserted", s.Inserted).
		Int64("duplicates", s.Duplicates).
		Int64("skipped", s.Skipped).
		Int64("failed", s.Failed).
		Msg("Parse worker progress")
}

// ProducerID prefers an explicit identifier, then the blob's own URL, then the page URL
func ProducerID(doc gjson.Result, originatingURL string) string {
	id := doc.Get("identifier")
	if id.IsArray() {
		id = id.Get("0")
	}
	if id.IsObject() {
		id = id.Get("value")
	}
	if s := strings.TrimSpace(firstText(id)); s != "" {
		return s
	}
	if s := strings.TrimSpace(firstText(doc.Get("url"))); s != "" {
		return s
	}
	return originatingURL
}

func firstText(v gjson.Result) string {
	if v.IsArray() {
		v = v.Get("0")
	}
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	}
	return ""
}
