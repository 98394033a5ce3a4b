package postgres

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
)

// Manager implements the StorageManager interface for Postgres/PostGIS
type Manager struct {
	db     *DB
	metro  interfaces.MetroStorage
	event  interfaces.EventStorage
	venue  interfaces.VenueCacheStorage
	logger arbor.ILogger
}

// NewManager opens the pool and wires every store
func NewManager(ctx context.Context, logger arbor.ILogger, config *common.PostgresConfig) (interfaces.StorageManager, error) {
	db, err := NewDB(ctx, logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		metro:  NewMetroStorage(db, logger),
		event:  NewEventStorage(db, logger),
		venue:  NewVenueCacheStorage(db, logger),
		logger: logger,
	}

	if config.MigrateOnStartup {
		if err := manager.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info().Msg("Postgres storage manager initialized")
	return manager, nil
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

// Close closes the pool
func (m *Manager) Close() error {
	return m.db.Close()
}
