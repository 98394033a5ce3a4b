package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
)

// Integration tests need a PostGIS database; they are skipped unless TEMPO_TEST_POSTGRES_DSN is set.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dsn := os.Getenv("TEMPO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEMPO_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	sm, err := NewManager(ctx, arbor.NewLogger(), &common.PostgresConfig{DSN: dsn, MaxConns: 2, MigrateOnStartup: true})
	require.NoError(t, err)
	m := sm.(*Manager)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.db.pool.Exec(ctx, `TRUNCATE clean_event_record, raw_event_record, metro_region, venue_cache, api_usage_counter RESTART IDENTITY`)
	require.NoError(t, err)
	return m
}

func TestPostgres_Containment(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.MetroStorage().UpsertMetros(ctx, []*models.MetroRegion{
		{ID: 1, Name: "Wide", CountryCode: "US", Slug: "wide", Centroid: models.Point{Lat: 5, Lon: 5},
			Bounds: models.Polygon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}, {Lat: 10, Lon: 10}, {Lat: 10, Lon: 0}}},
		{ID: 2, Name: "Inner", CountryCode: "US", Slug: "inner", Centroid: models.Point{Lat: 3, Lon: 3},
			Bounds: models.Polygon{{Lat: 2, Lon: 2}, {Lat: 2, Lon: 4}, {Lat: 4, Lon: 4}, {Lat: 4, Lon: 2}}},
	})
	require.NoError(t, err)

	got, err := m.MetroStorage().FindContaining(ctx, models.Point{Lat: 3, Lon: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
	assert.Len(t, got.Bounds.Closed(), 5)

	_, err = m.MetroStorage().FindContaining(ctx, models.Point{Lat: -30, Lon: 120})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgres_RawAndClean(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	events := m.EventStorage()

	id := "1"
	now := time.Now().UTC()
	raw := &models.RawEventRecord{Source: "x", SourceEventID: &id, Payload: json.RawMessage(`{"name":"a"}`), ParsedAt: &now}
	inserted, err := events.InsertRaw(ctx, raw)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = events.InsertRaw(ctx, &models.RawEventRecord{Source: "x", SourceEventID: &id, Payload: json.RawMessage(`{}`), ParsedAt: &now})
	require.NoError(t, err)
	assert.False(t, inserted)

	clean := &models.CleanEventRecord{
		EventRawID:    raw.ID,
		Source:        "x",
		Title:         "Salsa Night",
		StartTS:       now,
		MetroID:       1,
		Fingerprint:   "0123456789abcdef",
		VenueGeometry: &models.Point{Lat: 3, Lon: 3},
		Tags:          []string{"salsa"},
	}
	status, err := events.CommitNormalized(ctx, clean)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, status)

	got, err := events.GetClean(ctx, 1, "0123456789abcdef")
	require.NoError(t, err)
	require.NotNil(t, got.VenueGeometry)
	assert.InDelta(t, 3.0, got.VenueGeometry.Lat, 1e-9)
	assert.Equal(t, []string{"salsa"}, got.Tags)

	counts, err := events.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ByStatus["processed"])
	assert.Equal(t, 1, counts.Clean)
}

func TestPostgres_Usage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	venues := m.VenueCacheStorage()

	day := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		n, err := venues.IncrementUsage(ctx, "google_places", day)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	total, err := venues.UsageSince(ctx, "google_places", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
