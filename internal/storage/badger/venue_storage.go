package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const dayLayout = "2006-01-02"

// usageRow is one (api, day) counter. Day is the UTC date as YYYY-MM-DD so range queries sort lexically.
type usageRow struct {
	APIName string
	Day     string
	Calls   int
}

// VenueCacheStorage implements interfaces.VenueCacheStorage for Badger
type VenueCacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVenueCacheStorage creates a new VenueCacheStorage instance
func NewVenueCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VenueCacheStorage {
	return &VenueCacheStorage{
		db:     db,
		logger: logger,
	}
}

// GetVenue retrieves a cached venue (case-insensitive on name and city)
func (s *VenueCacheStorage) GetVenue(ctx context.Context, venueName, city string) (*models.VenueCacheEntry, error) {
	var entry models.VenueCacheEntry
	err := s.db.Store().Get(models.VenueKey(venueName, city), &entry)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get venue: %w", err)
	}
	return &entry, nil
}

// PutVenue stores a resolved venue. An existing entry for the same key is kept.
func (s *VenueCacheStorage) PutVenue(ctx context.Context, entry *models.VenueCacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	err := s.db.Store().Insert(models.VenueKey(entry.VenueName, entry.City), entry)
	if err != nil && !errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("failed to cache venue: %w", err)
	}
	return nil
}

// CountVenues returns the number of cached venues
func (s *VenueCacheStorage) CountVenues(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.VenueCacheEntry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count venues: %w", err)
	}
	return int(count), nil
}

func usageKey(apiName string, day time.Time) string {
	return apiName + "|" + day.UTC().Format(dayLayout)
}

// IncrementUsage atomically adds one call for the day and returns the new count
func (s *VenueCacheStorage) IncrementUsage(ctx context.Context, apiName string, day time.Time) (int, error) {
	key := usageKey(apiName, day)
	var calls int

	err := s.db.update(func(tx *badger.Txn) error {
		var row usageRow
		err := s.db.Store().TxGet(tx, key, &row)
		if err == badgerhold.ErrNotFound {
			row = usageRow{APIName: apiName, Day: day.UTC().Format(dayLayout)}
		} else if err != nil {
			return err
		}
		row.Calls++
		calls = row.Calls
		return s.db.Store().TxUpsert(tx, key, &row)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage for %s: %w", apiName, err)
	}
	return calls, nil
}

// UsageOn returns the number of calls recorded for the day
func (s *VenueCacheStorage) UsageOn(ctx context.Context, apiName string, day time.Time) (int, error) {
	var row usageRow
	err := s.db.Store().Get(usageKey(apiName, day), &row)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage for %s: %w", apiName, err)
	}
	return row.Calls, nil
}

// UsageSince sums calls from the given day (inclusive) onward
func (s *VenueCacheStorage) UsageSince(ctx context.Context, apiName string, from time.Time) (int, error) {
	var rows []usageRow
	query := badgerhold.Where("APIName").Eq(apiName).And("Day").Ge(from.UTC().Format(dayLayout))
	if err := s.db.Store().Find(&rows, query); err != nil {
		return 0, fmt.Errorf("failed to sum usage for %s: %w", apiName, err)
	}

	total := 0
	for _, row := range rows {
		total += row.Calls
	}
	return total, nil
}
