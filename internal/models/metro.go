package models

// PopulationTier buckets metros by size for query routing
type PopulationTier string

const (
	TierMega   PopulationTier = "mega"
	TierLarge  PopulationTier = "large"
	TierMedium PopulationTier = "medium"
	TierSmall  PopulationTier = "small"
)

// MetroRegion is immutable reference data keyed by geoname id
type MetroRegion struct {
	ID           int64   `json:"geonameid" yaml:"geonameid" validate:"required,gt=0"`
	Name         string  `json:"name" yaml:"name" validate:"required"`
	CountryCode  string  `json:"country_iso2" yaml:"country" validate:"required,len=2"`
	Population   int64   `json:"population" yaml:"population"`
	Timezone     string  `json:"tz" yaml:"timezone"`
	Centroid     Point   `json:"centroid" yaml:"centroid"`
	Bounds       Polygon `json:"bbox" yaml:"bounds" validate:"min=3"`
	Slug         string  `json:"slug" yaml:"slug" validate:"required"`
	LocationCode int     `json:"location_code,omitempty" yaml:"location_code"` // Search API location code, 0 when unresolved
}

// Tier derives the population tier
func (m *MetroRegion) Tier() PopulationTier {
	switch {
	case m.Population >= 10_000_000:
		return TierMega
	case m.Population >= 1_000_000:
		return TierLarge
	case m.Population >= 250_000:
		return TierMedium
	default:
		return TierSmall
	}
}

// Covers reports whether the point falls inside the metro's bounding polygon
func (m *MetroRegion) Covers(p Point) bool {
	return m.Bounds.Covers(p)
}

// Searchable reports whether the metro can be submitted to the search API
func (m *MetroRegion) Searchable() bool {
	return m.LocationCode > 0
}
