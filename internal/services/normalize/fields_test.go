package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tempo/internal/models"
)

func TestExtractFields_JSONLD(t *testing.T) {
	payload := `{
		"@context": "https://schema.org",
		"@type": ["Event", "DanceEvent"],
		"name": "  Salsa   Night ",
		"description": "Social dancing",
		"startDate": "2024-07-20T20:00:00-04:00",
		"endDate": "2024-07-20T23:30",
		"image": [{"url": "https://example.com/a.jpg"}],
		"identifier": {"value": "evt-9"},
		"location": {
			"@type": "Place",
			"name": "Example Hall",
			"address": {
				"@type": "PostalAddress",
				"streetAddress": "123 Main St",
				"addressLocality": "Springfield",
				"postalCode": "62701",
				"addressRegion": "IL",
				"addressCountry": {"name": "US"}
			},
			"geo": {"latitude": "39.80", "longitude": -89.64}
		},
		"offers": [{"price": "free"}, {"price": "15.50", "priceCurrency": "usdollar"}]
	}`

	f, err := ExtractFields(models.SourceJSONLDScrape, []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "Salsa Night", f.Title)
	assert.Equal(t, "Social dancing", f.Description)
	assert.Equal(t, "evt-9", f.Identifier)
	assert.Equal(t, "https://example.com/a.jpg", f.ImageURL)
	assert.Equal(t, "Example Hall", f.VenueName)
	assert.Equal(t, "123 Main St, Springfield, 62701, IL, US", f.VenueAddress)
	require.NotNil(t, f.Address)
	assert.Equal(t, "Springfield", f.Address.Locality)

	assert.True(t, f.Start.Equal(time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, f.End)
	assert.True(t, f.End.Equal(time.Date(2024, 7, 20, 23, 30, 0, 0, time.UTC)))

	require.NotNil(t, f.Geo)
	assert.InDelta(t, 39.80, f.Geo.Lat, 1e-9)
	assert.InDelta(t, -89.64, f.Geo.Lon, 1e-9)

	require.NotNil(t, f.PriceVal)
	assert.Equal(t, 15.5, *f.PriceVal)
	assert.Equal(t, "USD", f.PriceCcy)
}

func TestExtractFields_OnlineEventURL(t *testing.T) {
	payload := `{"@type": "Event", "name": "Zouk Class", "startDate": "2024-08-01",
		"eventAttendanceMode": "https://schema.org/OnlineEventAttendanceMode",
		"location": {"@type": "VirtualLocation", "url": "https://stream.example.com/zouk"}}`

	f, err := ExtractFields(models.SourceJSONLDScrape, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "https://stream.example.com/zouk", f.URL)
	assert.False(t, f.HasAnyAddress)
}

func TestExtractFields_SearchItem(t *testing.T) {
	payload := `{
		"event_item_data": {
			"type": "event_item",
			"title": "Bachata Sundays",
			"url": "https://allevents.in/x",
			"event_dates": {"start_datetime": "2024-09-01 19:00:00 +00:00"},
			"location_info": {"name": "Club X", "address": "1 Dock Rd, London E1, UK"},
			"ticket_info": {"price": 12, "currency": "gbp"}
		},
		"discovery_context": {"region_id": 2643743}
	}`

	f, err := ExtractFields(models.SourceSearchItem, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "Bachata Sundays", f.Title)
	assert.Equal(t, "Club X", f.VenueName)
	assert.Equal(t, "1 Dock Rd, London E1, UK", f.VenueAddress)
	assert.Nil(t, f.Address)
	assert.True(t, f.HasAnyAddress)
	assert.Equal(t, 2024, f.Start.Year())
	require.NotNil(t, f.PriceVal)
	assert.Equal(t, 12.0, *f.PriceVal)
	assert.Equal(t, "GBP", f.PriceCcy)
}

func TestExtractFields_Errors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		payload string
		want    error
	}{
		{"not json", "x", `{nope`, models.ErrUnknownPayload},
		{"array", "x", `[1,2]`, models.ErrUnknownPayload},
		{"unknown shape", "x", `{"foo": 1}`, models.ErrUnknownPayload},
		{"search item without item", models.SourceSearchItem, `{"foo": 1}`, models.ErrUnknownPayload},
		{"not an event", "x", `{"@type": "Organization", "name": "Org"}`, models.ErrNoEvent},
		{"missing title", "x", `{"@type": "Event", "startDate": "2024-07-20"}`, models.ErrMissingTitle},
		{"missing start", "x", `{"@type": "Event", "name": "Salsa"}`, models.ErrMissingStart},
		{"bad start", "x", `{"@type": "Event", "name": "Salsa", "startDate": "next friday"}`, models.ErrMissingStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFields(tt.source, []byte(tt.payload))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
