package badger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	m := newManager(db, logger)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func square(minLat, minLon, maxLat, maxLon float64) models.Polygon {
	return models.Polygon{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
	}
}

func strPtr(s string) *string { return &s }

func parsedRaw(source, id string, payload string) *models.RawEventRecord {
	now := time.Now().UTC()
	return &models.RawEventRecord{
		Source:        source,
		SourceEventID: strPtr(id),
		Payload:       json.RawMessage(payload),
		ParsedAt:      &now,
	}
}

func TestMetroStorage_FindContaining(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.MetroStorage()

	metros := []*models.MetroRegion{
		{ID: 1, Name: "Wide", CountryCode: "US", Slug: "wide", Bounds: square(0, 0, 10, 10)},
		{ID: 2, Name: "Inner", CountryCode: "US", Slug: "inner", Bounds: square(2, 2, 4, 4)},
		{ID: 3, Name: "Elsewhere", CountryCode: "GB", Slug: "elsewhere", Bounds: square(50, -1, 52, 1)},
	}
	n, err := store.UpsertMetros(ctx, metros)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Re-seeding is idempotent
	_, err = store.UpsertMetros(ctx, metros)
	require.NoError(t, err)
	all, err := store.ListMetros(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := store.FindContaining(ctx, models.Point{Lat: 3, Lon: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID, "smallest covering region wins")

	got, err = store.FindContaining(ctx, models.Point{Lat: 8, Lon: 8})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)

	got, err = store.FindContaining(ctx, models.Point{Lat: 51, Lon: 1})
	require.NoError(t, err, "boundary counts as covered")
	assert.Equal(t, int64(3), got.ID)

	_, err = store.FindContaining(ctx, models.Point{Lat: -40, Lon: 100})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.GetMetro(ctx, 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEventStorage_InsertRawIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	events := m.EventStorage()

	first := parsedRaw("x", "1", `{"name":"a"}`)
	inserted, err := events.InsertRaw(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	inserted, err = events.InsertRaw(ctx, parsedRaw("x", "1", `{"name":"b"}`))
	require.NoError(t, err)
	assert.False(t, inserted, "second insert is a no-op")

	// Same id under another source is a different record
	inserted, err = events.InsertRaw(ctx, parsedRaw("y", "1", `{"name":"c"}`))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Null source ids never conflict
	for i := 0; i < 2; i++ {
		inserted, err = events.InsertRaw(ctx, &models.RawEventRecord{Source: "x", Payload: json.RawMessage(`{}`)})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	got, err := events.GetRaw(ctx, first.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a"}`, string(got.Payload))

	counts, err := events.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Awaiting)
	assert.Equal(t, 2, counts.Unparsed)
}

func TestEventStorage_CommitNormalizedDeduplicates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	events := m.EventStorage()

	a := parsedRaw("x", "1", `{}`)
	b := parsedRaw("y", "2", `{}`)
	_, err := events.InsertRaw(ctx, a)
	require.NoError(t, err)
	_, err = events.InsertRaw(ctx, b)
	require.NoError(t, err)

	awaiting, err := events.ListAwaitingNormalization(ctx, 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 2)
	assert.Equal(t, a.ID, awaiting[0].ID, "oldest first")

	clean := func(rawID int64) *models.CleanEventRecord {
		return &models.CleanEventRecord{
			EventRawID:  rawID,
			Title:       "Salsa Night",
			StartTS:     time.Date(2024, 7, 20, 20, 0, 0, 0, time.UTC),
			MetroID:     1,
			Fingerprint: "abcdef0123456789",
			Tags:        []string{"salsa"},
		}
	}

	status, err := events.CommitNormalized(ctx, clean(a.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, status)

	status, err = events.CommitNormalized(ctx, clean(b.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDuplicate, status)

	rawB, err := events.GetRaw(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDuplicate, rawB.NormalizationStatus)
	assert.NotNil(t, rawB.NormalizedAt)

	got, err := events.GetClean(ctx, 1, "abcdef0123456789")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.EventRawID, "first occurrence wins")
	assert.Equal(t, models.EnrichmentPending, got.EnrichmentStatus)

	awaiting, err = events.ListAwaitingNormalization(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, awaiting)

	counts, err := events.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ByStatus["processed"])
	assert.Equal(t, 1, counts.ByStatus["duplicate"])
	assert.Equal(t, 1, counts.Clean)
}

func TestEventStorage_MarkAndReset(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	events := m.EventStorage()

	raw := parsedRaw("x", "err", `{}`)
	_, err := events.InsertRaw(ctx, raw)
	require.NoError(t, err)

	require.NoError(t, events.MarkNormalized(ctx, raw.ID, models.StatusError))
	// Terminal status is write-once
	require.NoError(t, events.MarkNormalized(ctx, raw.ID, models.StatusProcessed))

	got, err := events.GetRaw(ctx, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.NormalizationStatus)

	n, err := events.ResetNormalization(ctx, models.StatusError)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = events.GetRaw(ctx, raw.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NormalizedAt)
	assert.Equal(t, models.StatusNone, got.NormalizationStatus)

	awaiting, err := events.ListAwaitingNormalization(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, awaiting, 1)

	assert.ErrorIs(t, events.MarkNormalized(ctx, 424242, models.StatusError), models.ErrNotFound)
}

func TestEventStorage_Enrichment(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	events := m.EventStorage()

	raw := parsedRaw("x", "1", `{}`)
	_, err := events.InsertRaw(ctx, raw)
	require.NoError(t, err)

	clean := &models.CleanEventRecord{
		EventRawID:  raw.ID,
		Title:       "Tango",
		StartTS:     time.Now().UTC(),
		MetroID:     7,
		Fingerprint: "fp",
		Description: "Entry 15 EUR",
	}
	_, err = events.CommitNormalized(ctx, clean)
	require.NoError(t, err)

	pending, err := events.ListPendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	price := 15.0
	err = events.ApplyEnrichment(ctx, pending[0].ID, &models.EnrichmentUpdate{
		PriceVal:   &price,
		PriceCcy:   "EUR",
		Status:     models.EnrichmentProcessed,
		Enrichment: map[string]interface{}{"organizer_name": "Club", "price": 15.0},
	})
	require.NoError(t, err)

	got, err := events.GetClean(ctx, 7, "fp")
	require.NoError(t, err)
	require.NotNil(t, got.PriceVal)
	assert.Equal(t, 15.0, *got.PriceVal)
	assert.Equal(t, "EUR", got.PriceCcy)
	assert.Equal(t, models.EnrichmentProcessed, got.EnrichmentStatus)
	assert.Equal(t, "Club", got.Enrichment["organizer_name"])

	pending, err = events.ListPendingEnrichment(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVenueCacheStorage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	venues := m.VenueCacheStorage()

	_, err := venues.GetVenue(ctx, "Example Hall", "Springfield")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, venues.PutVenue(ctx, &models.VenueCacheEntry{
		VenueName: "Example Hall", City: "Springfield", Lat: 1.5, Lon: 2.5, PlaceID: "p1",
	}))
	// Existing entry is kept
	require.NoError(t, venues.PutVenue(ctx, &models.VenueCacheEntry{
		VenueName: "example hall", City: "SPRINGFIELD", Lat: 9, Lon: 9, PlaceID: "p2",
	}))

	got, err := venues.GetVenue(ctx, "EXAMPLE HALL", " springfield ")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlaceID)

	n, err := venues.CountVenues(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		calls, err := venues.IncrementUsage(ctx, "google_places", day)
		require.NoError(t, err)
		assert.Equal(t, i, calls)
	}
	_, err = venues.IncrementUsage(ctx, "google_places", day.AddDate(0, 0, -1))
	require.NoError(t, err)
	_, err = venues.IncrementUsage(ctx, "google_places", day.AddDate(0, -1, 0))
	require.NoError(t, err)

	today, err := venues.UsageOn(ctx, "google_places", day)
	require.NoError(t, err)
	assert.Equal(t, 3, today)

	month, err := venues.UsageSince(ctx, "google_places", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 4, month)

	other, err := venues.UsageOn(ctx, "other_api", day)
	require.NoError(t, err)
	assert.Zero(t, other)
}
