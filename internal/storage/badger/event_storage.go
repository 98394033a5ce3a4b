package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const (
	rawSequence   = "raw_event"
	cleanSequence = "clean_event"
)

// rawRow wraps a raw record with flat, queryable fields.
// Pointer fields are not queried directly; Awaiting is maintained on every write.
type rawRow struct {
	ID           int64
	Source       string
	Awaiting     bool
	Parsed       bool
	ParsedAtUnix int64
	Status       string
	Record       models.RawEventRecord
}

// rawKey enforces (source, source_event_id) uniqueness
type rawKey struct {
	RawID int64
}

// cleanRow wraps a clean record. Enrichment is kept as JSON so gob never sees interface values.
type cleanRow struct {
	ID               int64
	MetroID          int64
	Fingerprint      string
	EnrichmentStatus string
	CreatedAtUnix    int64
	Record           models.CleanEventRecord
	EnrichmentJSON   []byte
}

// cleanKey enforces (metro_id, fingerprint) uniqueness
type cleanKey struct {
	CleanID int64
}

// EventStorage implements interfaces.EventStorage for Badger
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func newRawRow(record *models.RawEventRecord) *rawRow {
	row := &rawRow{
		ID:       record.ID,
		Source:   record.Source,
		Awaiting: record.AwaitingNormalization(),
		Parsed:   record.ParsedAt != nil,
		Status:   string(record.NormalizationStatus),
		Record:   *record,
	}
	if record.ParsedAt != nil {
		row.ParsedAtUnix = record.ParsedAt.UnixNano()
	}
	return row
}

func rawDedupKey(source, sourceEventID string) string {
	return source + "|" + sourceEventID
}

func cleanDedupKey(metroID int64, fingerprint string) string {
	return fmt.Sprintf("%d|%s", metroID, fingerprint)
}

// InsertRaw inserts a raw record. A (source, source_event_id) conflict is a no-op and returns false.
func (s *EventStorage) InsertRaw(ctx context.Context, record *models.RawEventRecord) (bool, error) {
	id, err := s.db.NextID(rawSequence)
	if err != nil {
		return false, err
	}

	if record.DiscoveredAt.IsZero() {
		record.DiscoveredAt = time.Now().UTC()
	}

	inserted := false
	err = s.db.update(func(tx *badger.Txn) error {
		inserted = false
		if record.SourceEventID != nil {
			err := s.db.Store().TxInsert(tx, rawDedupKey(record.Source, *record.SourceEventID), &rawKey{RawID: id})
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return nil
			}
			if err != nil {
				return err
			}
		}

		row := *record
		row.ID = id
		if err := s.db.Store().TxInsert(tx, id, newRawRow(&row)); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert raw record: %w", err)
	}

	if inserted {
		record.ID = id
	}
	return inserted, nil
}

// GetRaw retrieves a raw record by id
func (s *EventStorage) GetRaw(ctx context.Context, id int64) (*models.RawEventRecord, error) {
	var row rawRow
	err := s.db.Store().Get(id, &row)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw record %d: %w", id, err)
	}
	return &row.Record, nil
}

// ListAwaitingNormalization returns the oldest parsed, not-yet-normalized records
func (s *EventStorage) ListAwaitingNormalization(ctx context.Context, limit int) ([]*models.RawEventRecord, error) {
	var rows []rawRow
	query := badgerhold.Where("Awaiting").Eq(true).SortBy("ParsedAtUnix", "ID")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list awaiting records: %w", err)
	}

	records := make([]*models.RawEventRecord, 0, len(rows))
	for i := range rows {
		records = append(records, &rows[i].Record)
	}
	return records, nil
}

// markRaw sets normalized_at and the status on a raw row inside tx.
// Already-terminal rows are left alone and reported as not updated.
func (s *EventStorage) markRaw(tx *badger.Txn, rawID int64, status models.NormalizationStatus) (bool, error) {
	var row rawRow
	if err := s.db.Store().TxGet(tx, rawID, &row); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, models.ErrNotFound
		}
		return false, err
	}
	if row.Record.NormalizedAt != nil {
		return false, nil
	}

	now := time.Now().UTC()
	row.Record.NormalizedAt = &now
	row.Record.NormalizationStatus = status
	return true, s.db.Store().TxUpdate(tx, rawID, newRawRow(&row.Record))
}

// MarkNormalized records a terminal status for a raw record
func (s *EventStorage) MarkNormalized(ctx context.Context, rawID int64, status models.NormalizationStatus) error {
	err := s.db.update(func(tx *badger.Txn) error {
		_, err := s.markRaw(tx, rawID, status)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark raw record %d as %s: %w", rawID, status, err)
	}
	return nil
}

// CommitNormalized inserts the clean record unless (metro_id, fingerprint) exists,
// and marks the owning raw record processed or duplicate in the same transaction.
func (s *EventStorage) CommitNormalized(ctx context.Context, clean *models.CleanEventRecord) (models.NormalizationStatus, error) {
	id, err := s.db.NextID(cleanSequence)
	if err != nil {
		return models.StatusNone, err
	}

	if clean.CreatedAt.IsZero() {
		clean.CreatedAt = time.Now().UTC()
	}
	if clean.EnrichmentStatus == "" {
		clean.EnrichmentStatus = models.EnrichmentPending
	}

	enrichment, err := marshalEnrichment(clean.Enrichment)
	if err != nil {
		return models.StatusNone, err
	}

	var status models.NormalizationStatus
	err = s.db.update(func(tx *badger.Txn) error {
		status = models.StatusProcessed

		err := s.db.Store().TxInsert(tx, cleanDedupKey(clean.MetroID, clean.Fingerprint), &cleanKey{CleanID: id})
		switch {
		case errors.Is(err, badgerhold.ErrKeyExists):
			status = models.StatusDuplicate
		case err != nil:
			return err
		default:
			record := *clean
			record.ID = id
			record.Enrichment = nil
			row := &cleanRow{
				ID:               id,
				MetroID:          clean.MetroID,
				Fingerprint:      clean.Fingerprint,
				EnrichmentStatus: string(clean.EnrichmentStatus),
				CreatedAtUnix:    clean.CreatedAt.UnixNano(),
				Record:           record,
				EnrichmentJSON:   enrichment,
			}
			if err := s.db.Store().TxInsert(tx, id, row); err != nil {
				return err
			}
		}

		_, err = s.markRaw(tx, clean.EventRawID, status)
		return err
	})
	if err != nil {
		return models.StatusNone, fmt.Errorf("failed to commit clean record for raw %d: %w", clean.EventRawID, err)
	}

	if status == models.StatusProcessed {
		clean.ID = id
	}
	return status, nil
}

// ResetNormalization clears normalized_at and the status on every raw record in the given status
func (s *EventStorage) ResetNormalization(ctx context.Context, status models.NormalizationStatus) (int, error) {
	var rows []rawRow
	if err := s.db.Store().Find(&rows, badgerhold.Where("Status").Eq(string(status))); err != nil {
		return 0, fmt.Errorf("failed to find %s records: %w", status, err)
	}

	reset := 0
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return reset, err
		}
		record := rows[i].Record
		record.NormalizedAt = nil
		record.NormalizationStatus = models.StatusNone
		if err := s.db.Store().Update(record.ID, newRawRow(&record)); err != nil {
			return reset, fmt.Errorf("failed to reset raw record %d: %w", record.ID, err)
		}
		reset++
	}
	return reset, nil
}

// CountByStatus summarizes raw records by normalization state
func (s *EventStorage) CountByStatus(ctx context.Context) (*models.StatusCounts, error) {
	counts := &models.StatusCounts{ByStatus: make(map[string]int)}

	awaiting, err := s.db.Store().Count(&rawRow{}, badgerhold.Where("Awaiting").Eq(true))
	if err != nil {
		return nil, fmt.Errorf("failed to count awaiting records: %w", err)
	}
	counts.Awaiting = int(awaiting)

	unparsed, err := s.db.Store().Count(&rawRow{}, badgerhold.Where("Parsed").Eq(false))
	if err != nil {
		return nil, fmt.Errorf("failed to count unparsed records: %w", err)
	}
	counts.Unparsed = int(unparsed)

	for _, status := range []models.NormalizationStatus{
		models.StatusProcessed, models.StatusError, models.StatusDuplicate, models.StatusNoEvents, models.StatusPending,
	} {
		n, err := s.db.Store().Count(&rawRow{}, badgerhold.Where("Status").Eq(string(status)))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", status, err)
		}
		if n > 0 {
			counts.ByStatus[string(status)] = int(n)
		}
	}

	clean, err := s.db.Store().Count(&cleanRow{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count clean records: %w", err)
	}
	counts.Clean = int(clean)

	return counts, nil
}

func (s *EventStorage) toClean(row *cleanRow) (*models.CleanEventRecord, error) {
	record := row.Record
	record.ID = row.ID
	record.EnrichmentStatus = models.EnrichmentStatus(row.EnrichmentStatus)
	if len(row.EnrichmentJSON) > 0 {
		if err := json.Unmarshal(row.EnrichmentJSON, &record.Enrichment); err != nil {
			return nil, fmt.Errorf("failed to decode enrichment for clean record %d: %w", row.ID, err)
		}
	}
	return &record, nil
}

// GetClean retrieves a clean record by its dedup key
func (s *EventStorage) GetClean(ctx context.Context, metroID int64, fingerprint string) (*models.CleanEventRecord, error) {
	var key cleanKey
	err := s.db.Store().Get(cleanDedupKey(metroID, fingerprint), &key)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up clean record: %w", err)
	}

	var row cleanRow
	if err := s.db.Store().Get(key.CleanID, &row); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get clean record %d: %w", key.CleanID, err)
	}
	return s.toClean(&row)
}

// ListPendingEnrichment returns the oldest clean records still awaiting enrichment
func (s *EventStorage) ListPendingEnrichment(ctx context.Context, limit int) ([]*models.CleanEventRecord, error) {
	var rows []cleanRow
	query := badgerhold.Where("EnrichmentStatus").Eq(string(models.EnrichmentPending)).SortBy("CreatedAtUnix", "ID")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list pending enrichment: %w", err)
	}

	records := make([]*models.CleanEventRecord, 0, len(rows))
	for i := range rows {
		record, err := s.toClean(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ApplyEnrichment backfills null price fields, stores the extracted map and sets the status
func (s *EventStorage) ApplyEnrichment(ctx context.Context, cleanID int64, update *models.EnrichmentUpdate) error {
	enrichment, err := marshalEnrichment(update.Enrichment)
	if err != nil {
		return err
	}

	err = s.db.update(func(tx *badger.Txn) error {
		var row cleanRow
		if err := s.db.Store().TxGet(tx, cleanID, &row); err != nil {
			if err == badgerhold.ErrNotFound {
				return models.ErrNotFound
			}
			return err
		}

		if row.Record.PriceVal == nil && update.PriceVal != nil {
			price := *update.PriceVal
			row.Record.PriceVal = &price
		}
		if row.Record.PriceCcy == "" && update.PriceCcy != "" {
			row.Record.PriceCcy = update.PriceCcy
		}
		if enrichment != nil {
			row.EnrichmentJSON = enrichment
		}
		row.EnrichmentStatus = string(update.Status)
		row.Record.EnrichmentStatus = update.Status

		return s.db.Store().TxUpdate(tx, cleanID, &row)
	})
	if err != nil {
		return fmt.Errorf("failed to apply enrichment to clean record %d: %w", cleanID, err)
	}
	return nil
}

func marshalEnrichment(values map[string]interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode enrichment: %w", err)
	}
	return data, nil
}
