package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/models"
)

// storedMessage is the internal structure stored in Badger
type storedMessage struct {
	ID           string    `json:"id"`
	Payload      []byte    `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// BadgerQueue is a persistent visibility-timeout queue on BadgerDB.
// A received message becomes visible again if it is not acked within the timeout,
// and is dropped after maxReceive deliveries.
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerQueue creates a new Badger-backed queue
func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Name returns the queue name
func (q *BadgerQueue) Name() string {
	return q.queueName
}

// Push appends a payload, immediately visible
func (q *BadgerQueue) Push(ctx context.Context, payload []byte) error {
	now := time.Now()
	msg := storedMessage{
		ID:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: now,
		VisibleAt:  now,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	// Data lives at queue:{name}:msg:{id}; queue:{name}:index:{visibleAt}:{id} orders by visibility
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(msg.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
}

// Receive claims the next visible message without blocking.
// Returns models.ErrNoMessage when nothing is visible.
func (q *BadgerQueue) Receive(ctx context.Context) (*models.QueueMessage, error) {
	var claimed storedMessage
	dropped := 0
	found := false

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var indexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Keys sort by timestamp, nothing after a future one is ready
			if ts.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(id))
			if err == badger.ErrKeyNotFound {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			var msg storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			// Poison message: drop it rather than loop forever
			if msg.ReceiveCount >= q.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				dropped++
				continue
			}

			claimed = msg
			indexKey = key
			found = true
			break
		}

		if !found {
			// Commit so the dropped messages stay deleted
			return nil
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(q.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(indexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})

	if dropped > 0 {
		q.logger.Warn().Str("queue", q.queueName).Int("dropped", dropped).Msg("Dropped messages that exceeded max receive count")
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNoMessage
	}

	return &models.QueueMessage{
		ID:           claimed.ID,
		Payload:      claimed.Payload,
		EnqueuedAt:   claimed.EnqueuedAt,
		ReceiveCount: claimed.ReceiveCount,
		Receipt:      claimed.ID,
	}, nil
}

// Ack deletes a received message and its index entry
func (q *BadgerQueue) Ack(ctx context.Context, msg *models.QueueMessage) error {
	return q.db.Update(func(txn *badger.Txn) error {
		msgKey := q.msgKey(msg.Receipt)
		item, err := txn.Get(msgKey)
		if err == badger.ErrKeyNotFound {
			return nil // Already deleted
		}
		if err != nil {
			return err
		}

		var current storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, current.ID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(msgKey)
	})
}

// Len counts stored messages, visible or in flight
func (q *BadgerQueue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close is a no-op; the DB is owned by the caller
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad so lexical order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := q.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 21 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
