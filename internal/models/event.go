package models

import (
	"encoding/json"
	"time"
)

// NormalizationStatus is the terminal outcome recorded on a raw event record.
// The empty value means no decision has been made yet.
type NormalizationStatus string

const (
	StatusNone      NormalizationStatus = ""
	StatusPending   NormalizationStatus = "pending"
	StatusProcessed NormalizationStatus = "processed"
	StatusError     NormalizationStatus = "error"
	StatusDuplicate NormalizationStatus = "duplicate"
	StatusNoEvents  NormalizationStatus = "no_events"
)

// Terminal reports whether the status ends the raw record's lifecycle
func (s NormalizationStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusError, StatusDuplicate, StatusNoEvents:
		return true
	}
	return false
}

// Known producer sources
const (
	SourceJSONLDScrape = "jsonld_scrape"
	SourceSearchItem   = "dataforseo_event_item"
)

// RawEventRecord is an admitted, unmodified producer payload
type RawEventRecord struct {
	ID                  int64               `json:"id"`
	Source              string              `json:"source"`
	SourceEventID       *string             `json:"source_event_id,omitempty"`
	MetroID             *int64              `json:"metro_id,omitempty"`
	Payload             json.RawMessage     `json:"raw_payload"`
	DiscoveredAt        time.Time           `json:"discovered_at"`
	ParsedAt            *time.Time          `json:"parsed_at,omitempty"`
	NormalizedAt        *time.Time          `json:"normalized_at,omitempty"`
	NormalizationStatus NormalizationStatus `json:"normalization_status,omitempty"`
}

// AwaitingNormalization reports whether the record is ready for the normalizer
func (r *RawEventRecord) AwaitingNormalization() bool {
	return r.ParsedAt != nil && r.NormalizedAt == nil
}

// EnrichmentStatus tracks the optional backfill callout on clean records
type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentProcessed EnrichmentStatus = "processed"
	EnrichmentFailed    EnrichmentStatus = "failed"
	EnrichmentSkipped   EnrichmentStatus = "skipped"
)

// CleanEventRecord is the canonical, deduplicated output of normalization.
// (MetroID, Fingerprint) is unique.
type CleanEventRecord struct {
	ID               int64                  `json:"id"`
	EventRawID       int64                  `json:"event_raw_id"`
	Source           string                 `json:"source"`
	SourceEventID    *string                `json:"source_event_id,omitempty"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description,omitempty"`
	URL              string                 `json:"url,omitempty"`
	StartTS          time.Time              `json:"start_ts"`
	EndTS            *time.Time             `json:"end_ts,omitempty"`
	VenueName        string                 `json:"venue_name,omitempty"`
	VenueAddress     string                 `json:"venue_address,omitempty"`
	VenueGeometry    *Point                 `json:"venue_geom,omitempty"`
	ImageURL         string                 `json:"image_url,omitempty"`
	Tags             []string               `json:"tags"`
	MetroID          int64                  `json:"metro_id"`
	PriceVal         *float64               `json:"price_val,omitempty"`
	PriceCcy         string                 `json:"price_ccy,omitempty"`
	Fingerprint      string                 `json:"fingerprint"`
	QualityScore     int                    `json:"quality_score"`
	EnrichmentStatus EnrichmentStatus       `json:"enrichment_status"`
	Enrichment       map[string]interface{} `json:"enrichment,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// EnrichmentUpdate is the backfill applied to a clean record
type EnrichmentUpdate struct {
	PriceVal   *float64
	PriceCcy   string
	Status     EnrichmentStatus
	Enrichment map[string]interface{}
}

// StatusCounts summarizes raw records by normalization state
type StatusCounts struct {
	Awaiting int            `json:"awaiting"`
	Unparsed int            `json:"unparsed"`
	ByStatus map[string]int `json:"by_status"`
	Clean    int            `json:"clean"`
}
