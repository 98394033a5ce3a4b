package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
)

// VenueCacheStorage implements interfaces.VenueCacheStorage on Postgres
type VenueCacheStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewVenueCacheStorage creates a new VenueCacheStorage instance
func NewVenueCacheStorage(db *DB, logger arbor.ILogger) interfaces.VenueCacheStorage {
	return &VenueCacheStorage{
		db:     db,
		logger: logger,
	}
}

// GetVenue retrieves a cached venue (case-insensitive on name and city)
func (s *VenueCacheStorage) GetVenue(ctx context.Context, venueName, city string) (*models.VenueCacheEntry, error) {
	var v models.VenueCacheEntry
	err := s.db.pool.QueryRow(ctx, `
		SELECT venue_name, COALESCE(venue_address, ''), city, COALESCE(formatted_address, ''),
			lat, lon, COALESCE(place_id, ''), created_at
		FROM venue_cache
		WHERE lower(venue_name) = lower($1) AND lower(city) = lower($2)`,
		strings.TrimSpace(venueName), strings.TrimSpace(city),
	).Scan(&v.VenueName, &v.VenueAddress, &v.City, &v.FormattedAddress, &v.Lat, &v.Lon, &v.PlaceID, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get venue: %w", err)
	}
	return &v, nil
}

// PutVenue stores a resolved venue. An existing entry for the same key is kept.
func (s *VenueCacheStorage) PutVenue(ctx context.Context, entry *models.VenueCacheEntry) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO venue_cache (venue_name, venue_address, city, formatted_address, lat, lon, place_id)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		strings.TrimSpace(entry.VenueName), entry.VenueAddress, strings.TrimSpace(entry.City),
		entry.FormattedAddress, entry.Lat, entry.Lon, entry.PlaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to cache venue: %w", err)
	}
	return nil
}

// CountVenues returns the number of cached venues
func (s *VenueCacheStorage) CountVenues(ctx context.Context) (int, error) {
	var n int
	if err := s.db.pool.QueryRow(ctx, `SELECT count(*) FROM venue_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count venues: %w", err)
	}
	return n, nil
}

func usageDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IncrementUsage atomically adds one call for the day and returns the new count
func (s *VenueCacheStorage) IncrementUsage(ctx context.Context, apiName string, day time.Time) (int, error) {
	var calls int
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO api_usage_counter (api_name, usage_date, calls_count)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (api_name, usage_date)
		DO UPDATE SET calls_count = api_usage_counter.calls_count + 1
		RETURNING calls_count`, apiName, usageDate(day)).Scan(&calls)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage for %s: %w", apiName, err)
	}
	return calls, nil
}

// UsageOn returns the number of calls recorded for the day
func (s *VenueCacheStorage) UsageOn(ctx context.Context, apiName string, day time.Time) (int, error) {
	var calls int
	err := s.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(calls_count), 0) FROM api_usage_counter
		WHERE api_name = $1 AND usage_date = $2::date`, apiName, usageDate(day)).Scan(&calls)
	if err != nil {
		return 0, fmt.Errorf("failed to read usage for %s: %w", apiName, err)
	}
	return calls, nil
}

// UsageSince sums calls from the given day (inclusive) onward
func (s *VenueCacheStorage) UsageSince(ctx context.Context, apiName string, from time.Time) (int, error) {
	var calls int
	err := s.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(calls_count), 0) FROM api_usage_counter
		WHERE api_name = $1 AND usage_date >= $2::date`, apiName, usageDate(from)).Scan(&calls)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage for %s: %w", apiName, err)
	}
	return calls, nil
}
