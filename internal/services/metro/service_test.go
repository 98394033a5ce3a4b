package metro

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/storage/badger"
)

const seedYAML = `
metros:
  - geonameid: 4409896
    name: Springfield
    country: us
    population: 169176
    timezone: America/Chicago
    centroid: [-89.65, 39.80]
    ring: [[-89.80, 39.70], [-89.50, 39.70], [-89.50, 39.90], [-89.80, 39.90]]
    location_code: 1016367
  - geonameid: 2643743
    name: Greater London
    country: GB
    population: 8961989
    timezone: Europe/London
    centroid: [-0.12, 51.50]
    bbox: "POLYGON((-0.51 51.28, 0.33 51.28, 0.33 51.69, -0.51 51.69, -0.51 51.28))"
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := arbor.NewLogger()
	sm, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })

	path := filepath.Join(t.TempDir(), "metros.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0644))

	svc := NewService(sm.MetroStorage(), logger)
	n, err := svc.Seed(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return svc
}

func TestParseSeed(t *testing.T) {
	metros, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, metros, 2)

	spr := metros[0]
	assert.Equal(t, "US", spr.CountryCode)
	assert.Equal(t, "springfield", spr.Slug)
	assert.Equal(t, models.TierSmall, spr.Tier())
	assert.InDelta(t, 39.80, spr.Centroid.Lat, 1e-9)
	assert.Len(t, spr.Bounds, 4)

	london := metros[1]
	assert.Equal(t, "greater-london", london.Slug)
	assert.Equal(t, models.TierLarge, london.Tier())
	assert.False(t, london.Searchable())
}

func TestParseSeed_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing name": "metros:\n  - geonameid: 1\n    country: US\n    ring: [[0,0],[1,0],[1,1]]\n",
		"bad country":  "metros:\n  - geonameid: 1\n    name: X\n    country: USA\n    ring: [[0,0],[1,0],[1,1]]\n",
		"no bounds":    "metros:\n  - geonameid: 1\n    name: X\n    country: US\n",
		"short ring":   "metros:\n  - geonameid: 1\n    name: X\n    country: US\n    ring: [[0,0],[1,0]]\n",
		"duplicate id": "metros:\n  - {geonameid: 1, name: A, country: US, ring: [[0,0],[1,0],[1,1]]}\n  - {geonameid: 1, name: B, country: US, ring: [[0,0],[1,0],[1,1]]}\n",
		"out of range": "metros:\n  - geonameid: 1\n    name: X\n    country: US\n    ring: [[0,0],[200,0],[1,1]]\n",
		"truncated":    "metros: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestService_Lookups(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	m, err := svc.Contains(ctx, 39.78, -89.65)
	require.NoError(t, err)
	assert.Equal(t, int64(4409896), m.ID)

	_, err = svc.Contains(ctx, 0, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)

	searchable, err := svc.Searchable(ctx)
	require.NoError(t, err)
	require.Len(t, searchable, 1)
	assert.Equal(t, 1016367, searchable[0].LocationCode)

	cc, err := svc.CountryCode(ctx, 2643743)
	require.NoError(t, err)
	assert.Equal(t, "GB", cc)

	cc, err = svc.CountryCode(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cc)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "rio-de-janeiro", Slugify("Rio de Janeiro"))
	assert.Equal(t, "new-york-city", Slugify("  New York  City! "))
}
