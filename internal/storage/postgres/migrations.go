package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order; every statement is idempotent
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,

	`CREATE TABLE IF NOT EXISTS metro_region (
		geonameid     BIGINT PRIMARY KEY,
		name          TEXT NOT NULL,
		country_iso2  CHAR(2) NOT NULL,
		population    BIGINT NOT NULL DEFAULT 0,
		tz            TEXT,
		centroid      GEOGRAPHY(POINT, 4326),
		bbox          GEOGRAPHY(POLYGON, 4326) NOT NULL,
		slug          TEXT NOT NULL UNIQUE,
		location_code INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS metro_region_bbox_gix ON metro_region USING GIST (bbox)`,

	`CREATE TABLE IF NOT EXISTS raw_event_record (
		id                   BIGSERIAL PRIMARY KEY,
		source               TEXT NOT NULL,
		source_event_id      TEXT,
		metro_id             BIGINT,
		raw_payload          JSONB NOT NULL,
		discovered_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		parsed_at            TIMESTAMPTZ,
		normalized_at        TIMESTAMPTZ,
		normalization_status TEXT,
		UNIQUE (source, source_event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS raw_event_record_awaiting_idx
		ON raw_event_record (parsed_at, id) WHERE parsed_at IS NOT NULL AND normalized_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS raw_event_record_status_idx ON raw_event_record (normalization_status)`,

	`CREATE TABLE IF NOT EXISTS clean_event_record (
		id                BIGSERIAL PRIMARY KEY,
		event_raw_id      BIGINT NOT NULL REFERENCES raw_event_record (id),
		source            TEXT NOT NULL,
		source_event_id   TEXT,
		title             TEXT NOT NULL,
		description       TEXT,
		url               TEXT,
		start_ts          TIMESTAMPTZ NOT NULL,
		end_ts            TIMESTAMPTZ,
		venue_name        TEXT,
		venue_address     TEXT,
		venue_geom        GEOGRAPHY(POINT, 4326),
		image_url         TEXT,
		tags              TEXT[] NOT NULL DEFAULT '{}',
		metro_id          BIGINT NOT NULL,
		price_val         NUMERIC,
		price_ccy         CHAR(3),
		fingerprint       TEXT NOT NULL,
		quality_score     INTEGER NOT NULL DEFAULT 0,
		enrichment_status TEXT NOT NULL DEFAULT 'pending',
		enrichment        JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (metro_id, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS clean_event_record_enrichment_idx
		ON clean_event_record (created_at, id) WHERE enrichment_status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS venue_cache (
		id                BIGSERIAL PRIMARY KEY,
		venue_name        TEXT NOT NULL,
		venue_address     TEXT,
		city              TEXT NOT NULL,
		formatted_address TEXT,
		lat               DOUBLE PRECISION NOT NULL,
		lon               DOUBLE PRECISION NOT NULL,
		place_id          TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS venue_cache_name_city_uq ON venue_cache (lower(venue_name), lower(city))`,

	`CREATE TABLE IF NOT EXISTS api_usage_counter (
		api_name    TEXT NOT NULL,
		usage_date  DATE NOT NULL,
		calls_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (api_name, usage_date)
	)`,
}

// Migrate creates the schema
func (m *Manager) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := m.db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	m.logger.Info().Int("statements", len(schema)).Msg("Postgres schema up to date")
	return nil
}
