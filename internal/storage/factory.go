package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/storage/badger"
	"github.com/ternarybob/tempo/internal/storage/postgres"
)

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "postgres", "":
		return postgres.NewManager(ctx, logger, &config.Storage.Postgres)
	case "badger":
		return badger.NewManager(logger, &config.Storage.Badger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'postgres' or 'badger')", config.Storage.Type)
	}
}
