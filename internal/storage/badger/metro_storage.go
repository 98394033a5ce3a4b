package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MetroStorage implements interfaces.MetroStorage for Badger.
// Containment runs in memory over the full region list, which is small and read-mostly.
type MetroStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMetroStorage creates a new MetroStorage instance
func NewMetroStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MetroStorage {
	return &MetroStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertMetros inserts or replaces every region, keyed by geoname id
func (s *MetroStorage) UpsertMetros(ctx context.Context, metros []*models.MetroRegion) (int, error) {
	count := 0
	for _, metro := range metros {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := s.db.Store().Upsert(metro.ID, metro); err != nil {
			return count, fmt.Errorf("failed to upsert metro %d: %w", metro.ID, err)
		}
		count++
	}
	return count, nil
}

// GetMetro retrieves a region by geoname id
func (s *MetroStorage) GetMetro(ctx context.Context, id int64) (*models.MetroRegion, error) {
	var metro models.MetroRegion
	err := s.db.Store().Get(id, &metro)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metro %d: %w", id, err)
	}
	return &metro, nil
}

// ListMetros returns all regions ordered by geoname id
func (s *MetroStorage) ListMetros(ctx context.Context) ([]*models.MetroRegion, error) {
	var metros []models.MetroRegion
	if err := s.db.Store().Find(&metros, nil); err != nil {
		return nil, fmt.Errorf("failed to list metros: %w", err)
	}

	result := make([]*models.MetroRegion, 0, len(metros))
	for i := range metros {
		result = append(result, &metros[i])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// FindContaining returns the smallest region covering the point, ties broken by id
func (s *MetroStorage) FindContaining(ctx context.Context, p models.Point) (*models.MetroRegion, error) {
	metros, err := s.ListMetros(ctx)
	if err != nil {
		return nil, err
	}

	var best *models.MetroRegion
	bestArea := 0.0
	for _, metro := range metros {
		if !metro.Covers(p) {
			continue
		}
		area := metro.Bounds.Area()
		if best == nil || area < bestArea {
			best, bestArea = metro, area
		}
	}

	if best == nil {
		return nil, models.ErrNotFound
	}
	return best, nil
}
