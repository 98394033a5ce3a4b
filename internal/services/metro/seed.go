package metro

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/tempo/internal/models"
	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of the metro reference list
type seedFile struct {
	Metros []seedMetro `yaml:"metros" validate:"required,dive"`
}

// seedMetro accepts either a lon/lat ring or a WKT polygon for the bounds
type seedMetro struct {
	GeonameID    int64        `yaml:"geonameid" validate:"required,gt=0"`
	Name         string       `yaml:"name" validate:"required"`
	Country      string       `yaml:"country" validate:"required,len=2"`
	Population   int64        `yaml:"population" validate:"gte=0"`
	Timezone     string       `yaml:"timezone"`
	Centroid     [2]float64   `yaml:"centroid"` // lon, lat
	Ring         [][2]float64 `yaml:"ring"`     // lon, lat pairs
	BBox         string       `yaml:"bbox"`     // WKT alternative to ring
	Slug         string       `yaml:"slug"`
	LocationCode int          `yaml:"location_code" validate:"gte=0"`
}

// LoadSeedFile reads and validates the YAML metro list
func LoadSeedFile(path string) ([]*models.MetroRegion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metro seed file %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML
func ParseSeed(data []byte) ([]*models.MetroRegion, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse metro seed: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid metro seed: %w", err)
	}

	seen := make(map[int64]bool, len(file.Metros))
	metros := make([]*models.MetroRegion, 0, len(file.Metros))
	for _, s := range file.Metros {
		if seen[s.GeonameID] {
			return nil, fmt.Errorf("duplicate geonameid %d", s.GeonameID)
		}
		seen[s.GeonameID] = true

		m, err := s.toRegion()
		if err != nil {
			return nil, err
		}
		if err := validate.Struct(m); err != nil {
			return nil, fmt.Errorf("invalid metro %d: %w", s.GeonameID, err)
		}
		metros = append(metros, m)
	}
	return metros, nil
}

func (s seedMetro) toRegion() (*models.MetroRegion, error) {
	var bounds models.Polygon
	switch {
	case len(s.Ring) > 0:
		for _, v := range s.Ring {
			bounds = append(bounds, models.Point{Lon: v[0], Lat: v[1]})
		}
	case s.BBox != "":
		ring, err := models.ParsePolygonWKT(s.BBox)
		if err != nil {
			return nil, fmt.Errorf("metro %d: %w", s.GeonameID, err)
		}
		bounds = ring
	default:
		return nil, fmt.Errorf("metro %d: ring or bbox is required", s.GeonameID)
	}

	slug := s.Slug
	if slug == "" {
		slug = Slugify(s.Name)
	}

	m := &models.MetroRegion{
		ID:           s.GeonameID,
		Name:         s.Name,
		CountryCode:  strings.ToUpper(s.Country),
		Population:   s.Population,
		Timezone:     s.Timezone,
		Centroid:     models.Point{Lon: s.Centroid[0], Lat: s.Centroid[1]},
		Bounds:       bounds,
		Slug:         slug,
		LocationCode: s.LocationCode,
	}
	for _, v := range bounds {
		if !v.Valid() {
			return nil, fmt.Errorf("metro %d: vertex out of range (%v, %v)", s.GeonameID, v.Lon, v.Lat)
		}
	}
	return m, nil
}

// Slugify lower-cases a name and joins words with dashes
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
