package queue

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-redis/redis/v8"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
)

// Set holds the two pipeline queues and the connection they share
type Set struct {
	URLs  interfaces.PackageQueue // url packages awaiting fetch
	Blobs interfaces.PackageQueue // structured-data blobs awaiting parse

	redis  *redis.Client
	badger *badger.DB
}

// Recoverer is implemented by queues that can requeue in-flight messages left by a crashed consumer
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// NewSet opens the configured backend and both queues
func NewSet(ctx context.Context, logger arbor.ILogger, config *common.QueueConfig) (*Set, error) {
	switch config.Backend {
	case "redis", "":
		client, err := NewRedisClient(ctx, &config.Redis)
		if err != nil {
			return nil, err
		}
		urls, err := NewRedisQueue(client, config.URLQueue, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		blobs, err := NewRedisQueue(client, config.BlobQueue, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Debug().Str("address", config.Redis.Address).Msg("Redis queues initialized")
		return &Set{URLs: urls, Blobs: blobs, redis: client}, nil

	case "badger":
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
		opts := badger.DefaultOptions(config.Path)
		opts.Logger = nil
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open queue database: %w", err)
		}
		return newBadgerSet(db, config, logger)

	default:
		return nil, fmt.Errorf("unsupported queue backend: %s (expected 'redis' or 'badger')", config.Backend)
	}
}

func newBadgerSet(db *badger.DB, config *common.QueueConfig, logger arbor.ILogger) (*Set, error) {
	visibility := common.MustDuration(config.VisibilityTimeout, 0)
	urls, err := NewBadgerQueue(db, config.URLQueue, visibility, config.MaxReceive, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	blobs, err := NewBadgerQueue(db, config.BlobQueue, visibility, config.MaxReceive, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug().Str("path", config.Path).Msg("Badger queues initialized")
	return &Set{URLs: urls, Blobs: blobs, badger: db}, nil
}

// Recover requeues in-flight messages on queues that support it
func Recover(ctx context.Context, q interfaces.PackageQueue) (int, error) {
	if r, ok := q.(Recoverer); ok {
		return r.Recover(ctx)
	}
	return 0, nil
}

// All returns both queues in pipeline order
func (s *Set) All() []interfaces.PackageQueue {
	return []interfaces.PackageQueue{s.URLs, s.Blobs}
}

// Close closes the shared connection
func (s *Set) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	if s.badger != nil {
		return s.badger.Close()
	}
	return nil
}
