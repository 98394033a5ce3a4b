package badger

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// maxConflictRetries bounds retries of a transaction that lost an optimistic-concurrency race
const maxConflictRetries = 5

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig

	seqMu     sync.Mutex
	sequences map[string]*badger.Sequence
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	// If reset_on_startup is enabled, delete the existing database
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		store:     store,
		logger:    logger,
		config:    config,
		sequences: make(map[string]*badger.Sequence),
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// NextID returns the next value of a named monotonic sequence, starting at 1
func (b *BadgerDB) NextID(name string) (int64, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	seq, ok := b.sequences[name]
	if !ok {
		var err error
		seq, err = b.store.Badger().GetSequence([]byte("seq:"+name), 100)
		if err != nil {
			return 0, fmt.Errorf("failed to open sequence %s: %w", name, err)
		}
		b.sequences[name] = seq
	}

	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return int64(n) + 1, nil
}

// update runs fn in a read-write transaction, retrying on optimistic-concurrency conflicts
func (b *BadgerDB) update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.store.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Close releases sequences and closes the database connection
func (b *BadgerDB) Close() error {
	b.seqMu.Lock()
	for name, seq := range b.sequences {
		if err := seq.Release(); err != nil {
			b.logger.Warn().Err(err).Str("sequence", name).Msg("Failed to release sequence")
		}
	}
	b.sequences = map[string]*badger.Sequence{}
	b.seqMu.Unlock()

	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
