package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
)

func TestFingerprint(t *testing.T) {
	start := time.Date(2024, 7, 20, 20, 0, 0, 0, time.UTC)

	a, err := Fingerprint("Salsa Night", start, 1, 16)
	require.NoError(t, err)
	assert.Len(t, a, 16)

	same, err := Fingerprint("  salsa   NIGHT ", start.Add(2*time.Hour), 1, 16)
	require.NoError(t, err)
	assert.Equal(t, a, same, "title normalization and day truncation")

	otherTitle, _ := Fingerprint("Bachata Night", start, 1, 16)
	otherDay, _ := Fingerprint("Salsa Night", start.AddDate(0, 0, 1), 1, 16)
	otherRegion, _ := Fingerprint("Salsa Night", start, 2, 16)
	assert.NotEqual(t, a, otherTitle)
	assert.NotEqual(t, a, otherDay)
	assert.NotEqual(t, a, otherRegion)

	full, err := Fingerprint("Salsa Night", start, 1, 0)
	require.NoError(t, err)
	assert.Len(t, full, 40)
	assert.Equal(t, a, full[:16])
}

func TestFingerprint_DayInOwnZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	local := time.Date(2024, 7, 21, 1, 0, 0, 0, tokyo)

	fromLocal, err := Fingerprint("Tango", local, 1, 16)
	require.NoError(t, err)
	sameDay, err := Fingerprint("Tango", time.Date(2024, 7, 21, 12, 0, 0, 0, tokyo), 1, 16)
	require.NoError(t, err)
	assert.Equal(t, fromLocal, sameDay)

	fromUTC, err := Fingerprint("Tango", local.UTC(), 1, 16)
	require.NoError(t, err)
	assert.NotEqual(t, fromLocal, fromUTC, "2024-07-21 local is 2024-07-20 in UTC")
}

func TestFingerprint_MissingInputs(t *testing.T) {
	start := time.Now()
	_, err := Fingerprint("   ", start, 1, 16)
	assert.Error(t, err)
	_, err = Fingerprint("x", time.Time{}, 1, 16)
	assert.Error(t, err)
	_, err = Fingerprint("x", start, 0, 16)
	assert.Error(t, err)
}

func TestTagger(t *testing.T) {
	tagger := NewTagger(common.NewDefaultConfig().Normalize.Tags)

	assert.Equal(t, []string{"bachata", "salsa"}, tagger.Tags("SALSA & Bachata Social", "", ""))
	assert.Equal(t, []string{"kizomba"}, tagger.Tags("Noite de Sembá", "", ""), "diacritics are folded")
	assert.Equal(t, []string{"west coast swing"}, tagger.Tags("", "Beginner WCS lesson", ""))
	assert.Equal(t, []string{"tango"}, tagger.Tags("", "", "Argentine Tango Club"))
	assert.Empty(t, tagger.Tags("Salsaverde cooking class", "", ""), "whole words only")
	assert.Empty(t, tagger.Tags("", "", ""))
}

func TestCityMatcher_FromAddress(t *testing.T) {
	c := NewCityMatcher(nil)

	tests := []struct {
		address string
		want    string
	}{
		{"123 Main St, Springfield", "Springfield"},
		{"1 Dock Rd, London, E1 6AN, UK", "London"},
		{"5 Rue X, Paris, 75001", "Paris"},
		{"Main St", ""},
		{"Main St, 12345", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.FromAddress(tt.address), tt.address)
	}
}

func TestCityMatcher_FromTitle(t *testing.T) {
	c := NewCityMatcher(common.NewDefaultConfig().Normalize.KnownCities)

	assert.Equal(t, "New York", c.FromTitle("Bachata night in new york"))
	assert.Equal(t, "Rio de Janeiro", c.FromTitle("Zouk festival - Rio de Janeiro"))
	assert.Equal(t, "", c.FromTitle("Parisian salsa"), "whole words only")
}

func TestScorer(t *testing.T) {
	cfg := common.NewDefaultConfig().Normalize
	s := NewScorer(cfg.Score, cfg.TrustedSources)

	minimal := &models.CleanEventRecord{
		Title:     "Salsa Night",
		StartTS:   time.Now(),
		VenueName: "Example Hall",
		Source:    "x",
	}
	assert.Equal(t, 25, s.Score(minimal))

	price := 10.0
	full := &models.CleanEventRecord{
		Title:         "Salsa Night",
		StartTS:       time.Now(),
		VenueName:     "Example Hall",
		VenueGeometry: &models.Point{Lat: 1, Lon: 1},
		Description:   "An evening of salsa with live music, a beginner class and social dancing until late.",
		PriceVal:      &price,
		URL:           "https://www.eventbrite.com/e/123",
		ImageURL:      "https://img.example.com/1.jpg",
		Tags:          []string{"salsa"},
		Source:        models.SourceJSONLDScrape,
	}
	assert.Equal(t, 51, s.Score(full))

	assert.True(t, s.Trusted("meetup_api", ""))
	assert.False(t, s.Trusted("x", "https://example.com"))
}
