package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
)

const metroColumns = `geonameid, name, country_iso2, population, COALESCE(tz, ''),
	COALESCE(ST_Y(centroid::geometry), 0), COALESCE(ST_X(centroid::geometry), 0),
	ST_AsText(bbox::geometry), slug, COALESCE(location_code, 0)`

// MetroStorage implements interfaces.MetroStorage on PostGIS
type MetroStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewMetroStorage creates a new MetroStorage instance
func NewMetroStorage(db *DB, logger arbor.ILogger) interfaces.MetroStorage {
	return &MetroStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertMetros seeds regions in a single batch
func (s *MetroStorage) UpsertMetros(ctx context.Context, metros []*models.MetroRegion) (int, error) {
	if len(metros) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, m := range metros {
		var locationCode *int
		if m.LocationCode > 0 {
			code := m.LocationCode
			locationCode = &code
		}
		b.Queue(`
			INSERT INTO metro_region
				(geonameid, name, country_iso2, population, tz, centroid, bbox, slug, location_code)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), ST_GeogFromText($6), ST_GeogFromText($7), $8, $9)
			ON CONFLICT (geonameid) DO UPDATE SET
				name = EXCLUDED.name,
				country_iso2 = EXCLUDED.country_iso2,
				population = EXCLUDED.population,
				tz = EXCLUDED.tz,
				centroid = EXCLUDED.centroid,
				bbox = EXCLUDED.bbox,
				slug = EXCLUDED.slug,
				location_code = EXCLUDED.location_code`,
			m.ID, m.Name, m.CountryCode, m.Population, m.Timezone,
			m.Centroid.WKT(), m.Bounds.WKT(), m.Slug, locationCode,
		)
	}

	br := s.db.pool.SendBatch(ctx, b)
	total := 0
	for range metros {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("failed to upsert metro: %w", err)
		}
		total += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return total, err
	}
	return total, nil
}

func scanMetro(row pgx.Row) (*models.MetroRegion, error) {
	var m models.MetroRegion
	var bbox string
	if err := row.Scan(&m.ID, &m.Name, &m.CountryCode, &m.Population, &m.Timezone,
		&m.Centroid.Lat, &m.Centroid.Lon, &bbox, &m.Slug, &m.LocationCode); err != nil {
		return nil, err
	}
	bounds, err := models.ParsePolygonWKT(bbox)
	if err != nil {
		return nil, fmt.Errorf("metro %d: %w", m.ID, err)
	}
	m.Bounds = bounds
	return &m, nil
}

// GetMetro retrieves a region by geoname id
func (s *MetroStorage) GetMetro(ctx context.Context, id int64) (*models.MetroRegion, error) {
	m, err := scanMetro(s.db.pool.QueryRow(ctx, `SELECT `+metroColumns+` FROM metro_region WHERE geonameid = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metro %d: %w", id, err)
	}
	return m, nil
}

// ListMetros returns all regions ordered by geoname id
func (s *MetroStorage) ListMetros(ctx context.Context) ([]*models.MetroRegion, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+metroColumns+` FROM metro_region ORDER BY geonameid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metros: %w", err)
	}
	defer rows.Close()

	var metros []*models.MetroRegion
	for rows.Next() {
		m, err := scanMetro(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metro: %w", err)
		}
		metros = append(metros, m)
	}
	return metros, rows.Err()
}

// FindContaining returns the smallest region whose polygon covers the point, ties broken by id
func (s *MetroStorage) FindContaining(ctx context.Context, p models.Point) (*models.MetroRegion, error) {
	m, err := scanMetro(s.db.pool.QueryRow(ctx, `
		SELECT `+metroColumns+`
		FROM metro_region
		WHERE ST_Covers(bbox, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		ORDER BY ST_Area(bbox) ASC, geonameid ASC
		LIMIT 1`, p.Lon, p.Lat))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("containment query failed: %w", err)
	}
	return m, nil
}
