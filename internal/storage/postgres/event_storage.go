package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
)

const rawColumns = `id, source, source_event_id, metro_id, raw_payload, discovered_at,
	parsed_at, normalized_at, COALESCE(normalization_status, '')`

const cleanColumns = `id, event_raw_id, source, source_event_id, title, COALESCE(description, ''),
	COALESCE(url, ''), start_ts, end_ts, COALESCE(venue_name, ''), COALESCE(venue_address, ''),
	ST_Y(venue_geom::geometry), ST_X(venue_geom::geometry), COALESCE(image_url, ''), tags, metro_id,
	price_val::float8, COALESCE(price_ccy, ''), fingerprint, quality_score, enrichment_status,
	enrichment, created_at`

// EventStorage implements interfaces.EventStorage on Postgres
type EventStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *DB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func scanRaw(row pgx.Row) (*models.RawEventRecord, error) {
	var r models.RawEventRecord
	var payload []byte
	var status string
	if err := row.Scan(&r.ID, &r.Source, &r.SourceEventID, &r.MetroID, &payload, &r.DiscoveredAt,
		&r.ParsedAt, &r.NormalizedAt, &status); err != nil {
		return nil, err
	}
	r.Payload = json.RawMessage(payload)
	r.NormalizationStatus = models.NormalizationStatus(status)
	return &r, nil
}

func scanClean(row pgx.Row) (*models.CleanEventRecord, error) {
	var c models.CleanEventRecord
	var lat, lon *float64
	var status string
	var enrichment []byte
	if err := row.Scan(&c.ID, &c.EventRawID, &c.Source, &c.SourceEventID, &c.Title, &c.Description,
		&c.URL, &c.StartTS, &c.EndTS, &c.VenueName, &c.VenueAddress,
		&lat, &lon, &c.ImageURL, &c.Tags, &c.MetroID,
		&c.PriceVal, &c.PriceCcy, &c.Fingerprint, &c.QualityScore, &status,
		&enrichment, &c.CreatedAt); err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		c.VenueGeometry = &models.Point{Lat: *lat, Lon: *lon}
	}
	c.EnrichmentStatus = models.EnrichmentStatus(status)
	if len(enrichment) > 0 {
		if err := json.Unmarshal(enrichment, &c.Enrichment); err != nil {
			return nil, fmt.Errorf("failed to decode enrichment for clean record %d: %w", c.ID, err)
		}
	}
	return &c, nil
}

// InsertRaw inserts a raw record. A (source, source_event_id) conflict is a no-op and returns false.
func (s *EventStorage) InsertRaw(ctx context.Context, record *models.RawEventRecord) (bool, error) {
	var id int64
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO raw_event_record
			(source, source_event_id, metro_id, raw_payload, discovered_at, parsed_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()), $6)
		ON CONFLICT (source, source_event_id) DO NOTHING
		RETURNING id`,
		record.Source, record.SourceEventID, record.MetroID, string(record.Payload),
		nullTime(record.DiscoveredAt), record.ParsedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert raw record: %w", err)
	}
	record.ID = id
	return true, nil
}

// GetRaw retrieves a raw record by id
func (s *EventStorage) GetRaw(ctx context.Context, id int64) (*models.RawEventRecord, error) {
	r, err := scanRaw(s.db.pool.QueryRow(ctx, `SELECT `+rawColumns+` FROM raw_event_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw record %d: %w", id, err)
	}
	return r, nil
}

// ListAwaitingNormalization returns the oldest parsed, not-yet-normalized records
func (s *EventStorage) ListAwaitingNormalization(ctx context.Context, limit int) ([]*models.RawEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+rawColumns+`
		FROM raw_event_record
		WHERE parsed_at IS NOT NULL AND normalized_at IS NULL
		ORDER BY parsed_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting records: %w", err)
	}
	defer rows.Close()

	var records []*models.RawEventRecord
	for rows.Next() {
		r, err := scanRaw(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// markRaw sets the terminal status once; already-terminal rows are left alone
func markRaw(ctx context.Context, tx pgx.Tx, rawID int64, status models.NormalizationStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE raw_event_record
		SET normalized_at = now(), normalization_status = $2
		WHERE id = $1 AND normalized_at IS NULL`, rawID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM raw_event_record WHERE id = $1)`, rawID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return models.ErrNotFound
	}
	return nil
}

// MarkNormalized records a terminal status for a raw record
func (s *EventStorage) MarkNormalized(ctx context.Context, rawID int64, status models.NormalizationStatus) error {
	err := s.db.withTx(ctx, func(tx pgx.Tx) error {
		return markRaw(ctx, tx, rawID, status)
	})
	if err != nil {
		return fmt.Errorf("failed to mark raw record %d as %s: %w", rawID, status, err)
	}
	return nil
}

// CommitNormalized inserts the clean record (on conflict do nothing) and marks the
// owning raw record processed or duplicate in the same transaction
func (s *EventStorage) CommitNormalized(ctx context.Context, clean *models.CleanEventRecord) (models.NormalizationStatus, error) {
	var geom *string
	if clean.VenueGeometry != nil {
		wkt := clean.VenueGeometry.WKT()
		geom = &wkt
	}
	var enrichment []byte
	if len(clean.Enrichment) > 0 {
		data, err := json.Marshal(clean.Enrichment)
		if err != nil {
			return models.StatusNone, fmt.Errorf("failed to encode enrichment: %w", err)
		}
		enrichment = data
	}
	tags := clean.Tags
	if tags == nil {
		tags = []string{}
	}
	enrichmentStatus := clean.EnrichmentStatus
	if enrichmentStatus == "" {
		enrichmentStatus = models.EnrichmentPending
	}

	status := models.StatusProcessed
	err := s.db.withTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO clean_event_record
				(event_raw_id, source, source_event_id, title, description, url, start_ts, end_ts,
				 venue_name, venue_address, venue_geom, image_url, tags, metro_id, price_val, price_ccy,
				 fingerprint, quality_score, enrichment_status, enrichment)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8,
				NULLIF($9, ''), NULLIF($10, ''), ST_GeogFromText($11), NULLIF($12, ''), $13, $14, $15, NULLIF($16, ''),
				$17, $18, $19, $20)
			ON CONFLICT (metro_id, fingerprint) DO NOTHING
			RETURNING id`,
			clean.EventRawID, clean.Source, clean.SourceEventID, clean.Title, clean.Description, clean.URL,
			clean.StartTS, clean.EndTS, clean.VenueName, clean.VenueAddress, geom, clean.ImageURL, tags,
			clean.MetroID, clean.PriceVal, clean.PriceCcy, clean.Fingerprint, clean.QualityScore,
			string(enrichmentStatus), enrichment,
		).Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			status = models.StatusDuplicate
		case err != nil:
			return err
		default:
			clean.ID = id
		}
		return markRaw(ctx, tx, clean.EventRawID, status)
	})
	if err != nil {
		return models.StatusNone, fmt.Errorf("failed to commit clean record for raw %d: %w", clean.EventRawID, err)
	}
	return status, nil
}

// ResetNormalization clears normalized_at and the status on every raw record in the given status
func (s *EventStorage) ResetNormalization(ctx context.Context, status models.NormalizationStatus) (int, error) {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE raw_event_record
		SET normalized_at = NULL, normalization_status = NULL
		WHERE normalization_status = $1`, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s records: %w", status, err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByStatus summarizes raw records by normalization state
func (s *EventStorage) CountByStatus(ctx context.Context) (*models.StatusCounts, error) {
	counts := &models.StatusCounts{ByStatus: make(map[string]int)}

	err := s.db.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE parsed_at IS NOT NULL AND normalized_at IS NULL),
			count(*) FILTER (WHERE parsed_at IS NULL)
		FROM raw_event_record`).Scan(&counts.Awaiting, &counts.Unparsed)
	if err != nil {
		return nil, fmt.Errorf("failed to count raw records: %w", err)
	}

	rows, err := s.db.pool.Query(ctx, `
		SELECT normalization_status, count(*)
		FROM raw_event_record
		WHERE normalization_status IS NOT NULL
		GROUP BY normalization_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		counts.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.pool.QueryRow(ctx, `SELECT count(*) FROM clean_event_record`).Scan(&counts.Clean); err != nil {
		return nil, fmt.Errorf("failed to count clean records: %w", err)
	}
	return counts, nil
}

// GetClean retrieves a clean record by its dedup key
func (s *EventStorage) GetClean(ctx context.Context, metroID int64, fingerprint string) (*models.CleanEventRecord, error) {
	c, err := scanClean(s.db.pool.QueryRow(ctx, `
		SELECT `+cleanColumns+` FROM clean_event_record WHERE metro_id = $1 AND fingerprint = $2`,
		metroID, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clean record: %w", err)
	}
	return c, nil
}

// ListPendingEnrichment returns the oldest clean records still awaiting enrichment
func (s *EventStorage) ListPendingEnrichment(ctx context.Context, limit int) ([]*models.CleanEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+cleanColumns+`
		FROM clean_event_record
		WHERE enrichment_status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending enrichment: %w", err)
	}
	defer rows.Close()

	var records []*models.CleanEventRecord
	for rows.Next() {
		c, err := scanClean(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clean record: %w", err)
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// ApplyEnrichment backfills null price fields, stores the extracted map and sets the status
func (s *EventStorage) ApplyEnrichment(ctx context.Context, cleanID int64, update *models.EnrichmentUpdate) error {
	var enrichment []byte
	if len(update.Enrichment) > 0 {
		data, err := json.Marshal(update.Enrichment)
		if err != nil {
			return fmt.Errorf("failed to encode enrichment: %w", err)
		}
		enrichment = data
	}

	tag, err := s.db.pool.Exec(ctx, `
		UPDATE clean_event_record SET
			price_val = COALESCE(price_val, $2),
			price_ccy = COALESCE(price_ccy, NULLIF($3, '')),
			enrichment = COALESCE($4, enrichment),
			enrichment_status = $5
		WHERE id = $1`,
		cleanID, update.PriceVal, update.PriceCcy, enrichment, string(update.Status))
	if err != nil {
		return fmt.Errorf("failed to apply enrichment to clean record %d: %w", cleanID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
