package venues

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/storage/badger"
)

type fakeGeocoder struct {
	calls  []string
	hints  []string
	result *models.GeocodeResult
	err    error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, query, countryHint string) (*models.GeocodeResult, error) {
	f.calls = append(f.calls, query)
	f.hints = append(f.hints, countryHint)
	return f.result, f.err
}

func newTestCache(t *testing.T) interfaces.VenueCacheStorage {
	t.Helper()
	sm, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })
	return sm.VenueCacheStorage()
}

func newTestResolver(t *testing.T, geo interfaces.Geocoder, cache interfaces.VenueCacheStorage, freeTier int) *Resolver {
	cfg := &common.GeocodingConfig{APIName: "google_places", MonthlyFreeTier: freeTier, SafetyMargin: 0.2}
	r := NewResolver(geo, cache, cfg, nil, arbor.NewLogger())
	r.now = func() time.Time { return time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestNewQuota(t *testing.T) {
	q := NewQuota(10000, 0.2)
	assert.Equal(t, 8000, q.Monthly)
	assert.Equal(t, 266, q.Daily)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name string
		req  models.GeocodeRequest
		want string
	}{
		{"venue and address", models.GeocodeRequest{VenueName: "Example Hall", Address: "123 Main St, Springfield"}, "Example Hall, 123 Main St, Springfield"},
		{"short address falls back to city", models.GeocodeRequest{VenueName: "Hall", Address: "n/a", City: "Paris"}, "Hall, Paris"},
		{"structured wins", models.GeocodeRequest{VenueName: "Club", Street: "1 Rue X", City: "Paris", PostalCode: "75001", Address: "free text here"}, "Club, 1 Rue X, Paris, 75001"},
		{"city only", models.GeocodeRequest{City: "London"}, "London"},
		{"nothing", models.GeocodeRequest{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(&tt.req))
		})
	}
}

func TestResolver_CacheHitSkipsExternalCall(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.PutVenue(ctx, &models.VenueCacheEntry{
		VenueName: "Example Hall", City: "Springfield", Lat: 1, Lon: 2, PlaceID: "cached",
	}))

	geo := &fakeGeocoder{}
	r := newTestResolver(t, geo, cache, 10000)

	res, err := r.Resolve(ctx, &models.GeocodeRequest{VenueName: "example hall", City: "SPRINGFIELD", Address: "123 Main St"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "cached", res.PlaceID)
	assert.Empty(t, geo.calls)
}

func TestResolver_CallCachesAndCounts(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	geo := &fakeGeocoder{result: &models.GeocodeResult{Lat: 39.7, Lon: -89.6, PlaceID: "p1"}}
	r := newTestResolver(t, geo, cache, 10000)

	req := &models.GeocodeRequest{VenueName: "Example Hall", City: "Springfield", Address: "123 Main St, Springfield", CountryHint: "US"}
	res, err := r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "p1", res.PlaceID)
	assert.Equal(t, []string{"US"}, geo.hints)

	// Second resolution is served from the cache
	_, err = r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Len(t, geo.calls, 1)

	stats, err := r.UsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DailyUsage)
	assert.Equal(t, 1, stats.MonthlyUsage)
	assert.Equal(t, 1, stats.CachedVenues)
	assert.Equal(t, 266, stats.DailyLimit)
	assert.Equal(t, 265, stats.DailyRemaining)
	assert.Equal(t, 1, stats.MemoryVenues)
}

func TestResolver_MemoryHitSkipsStorage(t *testing.T) {
	cache := newTestCache(t)
	geo := &fakeGeocoder{}
	r := newTestResolver(t, geo, cache, 10000)
	r.hot.SetDefault(models.VenueKey("Example Hall", "Springfield"), models.GeocodeResult{PlaceID: "hot", Lat: 1, Lon: 2})

	res, err := r.Resolve(context.Background(), &models.GeocodeRequest{VenueName: " example hall", City: "springfield"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "hot", res.PlaceID)
	assert.Empty(t, geo.calls)
}

func TestResolver_MemoryCacheDisabled(t *testing.T) {
	cfg := &common.GeocodingConfig{MonthlyFreeTier: 10000, SafetyMargin: 0.2, MemoryTTL: "0"}
	r := NewResolver(&fakeGeocoder{}, newTestCache(t), cfg, nil, arbor.NewLogger())
	assert.Nil(t, r.hot)
}

func TestResolver_QuotaRefusesBeforeNetwork(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	geo := &fakeGeocoder{}
	// 300 * 0.8 = 240 monthly, 8 daily
	r := newTestResolver(t, geo, cache, 300)
	require.Equal(t, 8, r.quota.Daily)

	for i := 0; i < r.quota.Daily; i++ {
		_, err := cache.IncrementUsage(ctx, "google_places", r.now())
		require.NoError(t, err)
	}

	res, err := r.Resolve(ctx, &models.GeocodeRequest{VenueName: "Somewhere", City: "Paris"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, models.ErrQuotaExhausted)
	assert.Empty(t, geo.calls)
}

func TestResolver_FailureLeavesNoCacheEntry(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	geo := &fakeGeocoder{err: errors.New("timeout")}
	r := newTestResolver(t, geo, cache, 10000)

	_, err := r.Resolve(ctx, &models.GeocodeRequest{VenueName: "Hall", City: "Paris"})
	assert.Error(t, err)

	n, err := cache.CountVenues(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	used, err := cache.UsageOn(ctx, "google_places", r.now())
	require.NoError(t, err)
	assert.Equal(t, 1, used, "failed calls still consume quota")
}
