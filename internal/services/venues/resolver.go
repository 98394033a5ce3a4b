package venues

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
)

// Quota holds the local caps derived from the provider free tier
type Quota struct {
	Daily   int
	Monthly int
}

// NewQuota keeps margin (0..1) of the monthly free tier in reserve and spreads the rest over 30 days
func NewQuota(monthlyFreeTier int, margin float64) Quota {
	monthly := int(float64(monthlyFreeTier) * (1 - margin))
	return Quota{Daily: monthly / 30, Monthly: monthly}
}

// Resolver wraps the geocoder with the venue cache and the usage counters.
// Lookup order: memory, cache, then quota check, then one external call.
type Resolver struct {
	geocoder interfaces.Geocoder
	cache    interfaces.VenueCacheStorage
	hot      *gocache.Cache // nil when memory_ttl is 0
	quota    Quota
	apiName  string
	metrics  *metrics.Metrics
	logger   arbor.ILogger
	now      func() time.Time
}

// NewResolver creates a new venue resolver
func NewResolver(
	geocoder interfaces.Geocoder,
	cache interfaces.VenueCacheStorage,
	config *common.GeocodingConfig,
	m *metrics.Metrics,
	logger arbor.ILogger,
) *Resolver {
	apiName := config.APIName
	if apiName == "" {
		apiName = "google_places"
	}

	var hot *gocache.Cache
	if ttl := common.MustDuration(config.MemoryTTL, 30*time.Minute); ttl > 0 {
		hot = gocache.New(ttl, 2*ttl)
	}

	return &Resolver{
		geocoder: geocoder,
		cache:    cache,
		hot:      hot,
		quota:    NewQuota(config.MonthlyFreeTier, config.SafetyMargin),
		apiName:  apiName,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// BuildQuery assembles the free-text geocoding query for a request.
// Structured address parts win over the free-text address.
func BuildQuery(req *models.GeocodeRequest) string {
	address := structuredAddress(req)
	if address == "" {
		address = strings.TrimSpace(req.Address)
	}
	venue := strings.TrimSpace(req.VenueName)
	city := strings.TrimSpace(req.City)

	var parts []string
	if venue != "" {
		parts = append(parts, venue)
	}
	switch {
	case len(address) > 5:
		if !strings.EqualFold(address, venue) {
			parts = append(parts, address)
		}
	case city != "":
		parts = append(parts, city)
	}
	return strings.Join(parts, ", ")
}

func structuredAddress(req *models.GeocodeRequest) string {
	var parts []string
	for _, p := range []string{req.Street, req.City, req.PostalCode, req.Region} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if strings.TrimSpace(req.Street) == "" && strings.TrimSpace(req.PostalCode) == "" {
		// A bare city is not a structured address
		return ""
	}
	return strings.Join(parts, ", ")
}

// cacheKey returns the (venue, city) pair used for the cache. City-only lookups key on the city.
func cacheKey(req *models.GeocodeRequest, query string) (string, string) {
	venue := strings.TrimSpace(req.VenueName)
	if venue == "" {
		venue = query
	}
	return venue, strings.TrimSpace(req.City)
}

// Resolve returns cached or freshly geocoded coordinates.
// Returns models.ErrQuotaExhausted when the local cap blocks the call, and nil, nil on no match.
func (r *Resolver) Resolve(ctx context.Context, req *models.GeocodeRequest) (*models.GeocodeResult, error) {
	query := BuildQuery(req)
	if query == "" {
		return nil, nil
	}

	venue, city := cacheKey(req, query)
	key := models.VenueKey(venue, city)
	if r.hot != nil {
		if v, ok := r.hot.Get(key); ok {
			r.metrics.RecordGeocode("cache_hit")
			res := v.(models.GeocodeResult)
			return &res, nil
		}
	}

	cached, err := r.cache.GetVenue(ctx, venue, city)
	switch {
	case err == nil:
		r.metrics.RecordGeocode("cache_hit")
		res := models.GeocodeResult{
			FormattedAddress: cached.FormattedAddress,
			Lat:              cached.Lat,
			Lon:              cached.Lon,
			PlaceID:          cached.PlaceID,
		}
		r.remember(key, res)
		return &res, nil
	case !errors.Is(err, models.ErrNotFound):
		r.logger.Warn().Err(err).Str("venue", venue).Msg("Venue cache lookup failed")
	}

	if !r.hasQuota(ctx) {
		r.metrics.RecordGeocode("quota_exhausted")
		return nil, models.ErrQuotaExhausted
	}

	result, callErr := r.geocoder.Geocode(ctx, query, req.CountryHint)

	// Every issued call counts against the quota, match or not
	if _, err := r.cache.IncrementUsage(ctx, r.apiName, r.now()); err != nil {
		r.logger.Warn().Err(err).Str("api", r.apiName).Msg("Failed to record geocoding usage")
	}

	if callErr != nil {
		r.metrics.RecordGeocode("failed")
		return nil, fmt.Errorf("geocode %q: %w", query, callErr)
	}
	if result == nil {
		r.metrics.RecordGeocode("no_match")
		return nil, nil
	}
	r.metrics.RecordGeocode("call")

	entry := &models.VenueCacheEntry{
		VenueName:        venue,
		VenueAddress:     strings.TrimSpace(req.Address),
		City:             city,
		FormattedAddress: result.FormattedAddress,
		Lat:              result.Lat,
		Lon:              result.Lon,
		PlaceID:          result.PlaceID,
	}
	if err := r.cache.PutVenue(ctx, entry); err != nil {
		r.logger.Warn().Err(err).Str("venue", venue).Msg("Failed to cache venue")
	}
	r.remember(key, *result)

	r.logger.Debug().
		Str("query", query).
		Str("place_id", result.PlaceID).
		Msg("Venue geocoded")

	return result, nil
}

func (r *Resolver) remember(key string, res models.GeocodeResult) {
	if r.hot != nil {
		r.hot.SetDefault(key, res)
	}
}

// hasQuota checks both caps. Unreadable counters count as exhausted.
// Read then increment: concurrent resolvers may each pass the last free slot.
func (r *Resolver) hasQuota(ctx context.Context) bool {
	now := r.now().UTC()

	daily, err := r.cache.UsageOn(ctx, r.apiName, now)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot read daily geocoding usage, treating quota as exhausted")
		return false
	}
	if daily >= r.quota.Daily {
		r.logger.Warn().Int("daily_usage", daily).Int("daily_limit", r.quota.Daily).Msg("Daily geocoding quota reached")
		return false
	}

	monthly, err := r.cache.UsageSince(ctx, r.apiName, monthStart(now))
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot read monthly geocoding usage, treating quota as exhausted")
		return false
	}
	if monthly >= r.quota.Monthly {
		r.logger.Warn().Int("monthly_usage", monthly).Int("monthly_limit", r.quota.Monthly).Msg("Monthly geocoding quota reached")
		return false
	}

	r.metrics.SetQuotaRemaining(r.quota.Daily-daily, r.quota.Monthly-monthly)
	return true
}

// UsageStats reports consumption against the local caps
func (r *Resolver) UsageStats(ctx context.Context) (*models.UsageStats, error) {
	now := r.now().UTC()

	daily, err := r.cache.UsageOn(ctx, r.apiName, now)
	if err != nil {
		return nil, err
	}
	monthly, err := r.cache.UsageSince(ctx, r.apiName, monthStart(now))
	if err != nil {
		return nil, err
	}
	venues, err := r.cache.CountVenues(ctx)
	if err != nil {
		return nil, err
	}
	hot := 0
	if r.hot != nil {
		hot = r.hot.ItemCount()
	}

	return &models.UsageStats{
		APIName:          r.apiName,
		DailyUsage:       daily,
		DailyLimit:       r.quota.Daily,
		DailyPercent:     percent(daily, r.quota.Daily),
		MonthlyUsage:     monthly,
		MonthlyLimit:     r.quota.Monthly,
		MonthlyPercent:   percent(monthly, r.quota.Monthly),
		DailyRemaining:   max(0, r.quota.Daily-daily),
		MonthlyRemaining: max(0, r.quota.Monthly-monthly),
		CachedVenues:     venues,
		MemoryVenues:     hot,
	}, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func percent(used, limit int) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) / float64(limit) * 100
}

var _ interfaces.VenueResolver = (*Resolver)(nil)
