// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th October 2026 9:12:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/tempo/internal/models"
)

// MetroStorage - reference regions. Read-only while the pipeline runs.
type MetroStorage interface {
	UpsertMetros(ctx context.Context, metros []*models.MetroRegion) (int, error)
	GetMetro(ctx context.Context, id int64) (*models.MetroRegion, error)
	ListMetros(ctx context.Context) ([]*models.MetroRegion, error)
	// FindContaining returns the first region whose polygon covers the point, or models.ErrNotFound
	FindContaining(ctx context.Context, p models.Point) (*models.MetroRegion, error)
}

// EventStorage - raw and clean event records
type EventStorage interface {
	// InsertRaw inserts a raw record. A (source, source_event_id) conflict is a no-op and returns false.
	InsertRaw(ctx context.Context, record *models.RawEventRecord) (bool, error)
	GetRaw(ctx context.Context, id int64) (*models.RawEventRecord, error)
	// ListAwaitingNormalization returns the oldest records with parsed_at set and normalized_at unset
	ListAwaitingNormalization(ctx context.Context, limit int) ([]*models.RawEventRecord, error)
	// MarkNormalized records a terminal status on its own, outside any clean insert
	MarkNormalized(ctx context.Context, rawID int64, status models.NormalizationStatus) error
	// CommitNormalized inserts the clean record (on conflict do nothing) and marks the raw record
	// processed or duplicate in one transaction. Returns the status written.
	CommitNormalized(ctx context.Context, clean *models.CleanEventRecord) (models.NormalizationStatus, error)
	// ResetNormalization clears normalized_at and the status for records in the given terminal status
	ResetNormalization(ctx context.Context, status models.NormalizationStatus) (int, error)
	CountByStatus(ctx context.Context) (*models.StatusCounts, error)

	GetClean(ctx context.Context, metroID int64, fingerprint string) (*models.CleanEventRecord, error)
	ListPendingEnrichment(ctx context.Context, limit int) ([]*models.CleanEventRecord, error)
	ApplyEnrichment(ctx context.Context, cleanID int64, update *models.EnrichmentUpdate) error
}

// VenueCacheStorage - geocoding cache and quota counters
type VenueCacheStorage interface {
	GetVenue(ctx context.Context, venueName, city string) (*models.VenueCacheEntry, error)
	PutVenue(ctx context.Context, entry *models.VenueCacheEntry) error
	CountVenues(ctx context.Context) (int, error)

	// IncrementUsage atomically adds one call for the day and returns the new count
	IncrementUsage(ctx context.Context, apiName string, day time.Time) (int, error)
	UsageOn(ctx context.Context, apiName string, day time.Time) (int, error)
	UsageSince(ctx context.Context, apiName string, from time.Time) (int, error)
}

// StorageManager - backend-neutral access to every store
type StorageManager interface {
	MetroStorage() MetroStorage
	EventStorage() EventStorage
	VenueCacheStorage() VenueCacheStorage
	// Migrate ensures the schema exists
	Migrate(ctx context.Context) error
	Close() error
}
