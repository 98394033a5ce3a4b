package models

import (
	"strings"
	"time"
)

// VenueCacheEntry is a resolved venue, unique per (venue_name, city) ignoring case
type VenueCacheEntry struct {
	VenueName        string    `json:"venue_name"`
	VenueAddress     string    `json:"venue_address,omitempty"`
	City             string    `json:"city"`
	FormattedAddress string    `json:"formatted_address"`
	Lat              float64   `json:"latitude"`
	Lon              float64   `json:"longitude"`
	PlaceID          string    `json:"place_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Point returns the cached coordinates
func (v *VenueCacheEntry) Point() Point {
	return Point{Lat: v.Lat, Lon: v.Lon}
}

// VenueKey builds the case-insensitive cache key
func VenueKey(venueName, city string) string {
	return strings.ToLower(strings.TrimSpace(venueName)) + "|" + strings.ToLower(strings.TrimSpace(city))
}

// GeocodeRequest describes what is known about a location.
// Structured components are preferred over the free-text Address.
type GeocodeRequest struct {
	VenueName   string `json:"venue_name,omitempty"`
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Region      string `json:"region,omitempty"`
	Address     string `json:"address,omitempty"` // Free text
	CountryHint string `json:"country_hint,omitempty"`
}

// GeocodeResult is the provider's best match
type GeocodeResult struct {
	FormattedAddress string  `json:"formatted_address"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	PlaceID          string  `json:"place_id"`
}

// UsageStats reports local geocoding quota consumption
type UsageStats struct {
	APIName          string  `json:"api_name"`
	DailyUsage       int     `json:"daily_usage"`
	DailyLimit       int     `json:"daily_limit"`
	DailyPercent     float64 `json:"daily_percent"`
	MonthlyUsage     int     `json:"monthly_usage"`
	MonthlyLimit     int     `json:"monthly_limit"`
	MonthlyPercent   float64 `json:"monthly_percent"`
	DailyRemaining   int     `json:"daily_remaining"`
	MonthlyRemaining int     `json:"monthly_remaining"`
	CachedVenues     int     `json:"cached_venues"`
	MemoryVenues     int     `json:"memory_venues"`
}
