package metro

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
)

// Service is the metro reference store. Regions are immutable while the pipeline runs,
// so lookups by id are memoized.
type Service struct {
	storage interfaces.MetroStorage
	logger  arbor.ILogger

	mu    sync.RWMutex
	byID  map[int64]*models.MetroRegion
	all   []*models.MetroRegion
	ready bool
}

// NewService creates a new metro service
func NewService(storage interfaces.MetroStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		byID:    make(map[int64]*models.MetroRegion),
	}
}

// Seed upserts the regions from a seed file. Safe to run repeatedly.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	metros, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}

	n, err := s.storage.UpsertMetros(ctx, metros)
	if err != nil {
		return n, err
	}

	s.mu.Lock()
	s.ready = false
	s.byID = make(map[int64]*models.MetroRegion)
	s.all = nil
	s.mu.Unlock()

	s.logger.Info().Str("path", path).Int("metros", len(metros)).Msg("Metro reference data seeded")
	return len(metros), nil
}

func (s *Service) load(ctx context.Context) error {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if ready {
		return nil
	}

	metros, err := s.storage.ListMetros(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = metros
	s.byID = make(map[int64]*models.MetroRegion, len(metros))
	for _, m := range metros {
		s.byID[m.ID] = m
	}
	s.ready = true
	return nil
}

// Get returns a region by geoname id
func (s *Service) Get(ctx context.Context, id int64) (*models.MetroRegion, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	m, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return m, nil
}

// List returns every region
func (s *Service) List(ctx context.Context) ([]*models.MetroRegion, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.MetroRegion(nil), s.all...), nil
}

// Searchable returns regions that carry a search location code
func (s *Service) Searchable(ctx context.Context) ([]*models.MetroRegion, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var result []*models.MetroRegion
	for _, m := range all {
		if m.Searchable() {
			result = append(result, m)
		}
	}
	return result, nil
}

// Contains returns the region covering the coordinate, or models.ErrNotFound
func (s *Service) Contains(ctx context.Context, lat, lon float64) (*models.MetroRegion, error) {
	return s.Locate(ctx, models.Point{Lat: lat, Lon: lon})
}

// Locate runs the containment query against the store
func (s *Service) Locate(ctx context.Context, p models.Point) (*models.MetroRegion, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid coordinate (%v, %v)", p.Lat, p.Lon)
	}
	return s.storage.FindContaining(ctx, p)
}

// CountryCode returns the ISO country code of a region, empty when unknown
func (s *Service) CountryCode(ctx context.Context, metroID int64) (string, error) {
	m, err := s.Get(ctx, metroID)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.CountryCode, nil
}

var _ interfaces.RegionLocator = (*Service)(nil)
