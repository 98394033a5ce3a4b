package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	metro  interfaces.MetroStorage
	event  interfaces.EventStorage
	venue  interfaces.VenueCacheStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger)
	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:     db,
		metro:  NewMetroStorage(db, logger),
		event:  NewEventStorage(db, logger),
		venue:  NewVenueCacheStorage(db, logger),
		logger: logger,
	}
}

// MetroStorage returns the Metro storage interface
func (m *Manager) MetroStorage() interfaces.MetroStorage {
	return m.metro
}

// EventStorage returns the Event storage interface
func (m *Manager) EventStorage() interfaces.EventStorage {
	return m.event
}

// VenueCacheStorage returns the Venue cache storage interface
func (m *Manager) VenueCacheStorage() interfaces.VenueCacheStorage {
	return m.venue
}

// Migrate is a no-op: badgerhold types are schemaless
func (m *Manager) Migrate(ctx context.Context) error {
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
