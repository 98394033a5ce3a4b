package interfaces

import (
	"context"

	"github.com/ternarybob/tempo/internal/models"
)

// Geocoder resolves a location through the external provider. No caching or quota here.
type Geocoder interface {
	Geocode(ctx context.Context, query string, countryHint string) (*models.GeocodeResult, error)
}

// VenueResolver wraps the geocoder with the venue cache and quota counters
type VenueResolver interface {
	// Resolve returns nil without error when nothing could be resolved
	Resolve(ctx context.Context, req *models.GeocodeRequest) (*models.GeocodeResult, error)
	UsageStats(ctx context.Context) (*models.UsageStats, error)
}

// RegionLocator assigns a metro region to a coordinate
type RegionLocator interface {
	Locate(ctx context.Context, p models.Point) (*models.MetroRegion, error)
	CountryCode(ctx context.Context, metroID int64) (string, error)
}

// PageFetcher loads a page in a headless browser and returns its rendered HTML
type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
	Close() error
}

// EnrichmentRequest is sent to an enrichment collaborator
type EnrichmentRequest struct {
	EventID         int64    `json:"event_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	FieldsToExtract []string `json:"fields_to_extract"`
}

// EnrichmentProvider extracts field values from free text
type EnrichmentProvider interface {
	Name() string
	Extract(ctx context.Context, req *EnrichmentRequest) (map[string]interface{}, error)
}
