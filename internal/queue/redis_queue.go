package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
)

// envelope is the list element; the exact encoded string doubles as the ack receipt
type envelope struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RedisQueue is a reliable list queue. Producers LPUSH; consumers RPOPLPUSH into
// {name}:processing and LREM on ack, so a crashed consumer's message survives
// in the processing list until Recover moves it back.
type RedisQueue struct {
	client     *redis.Client
	name       string
	processing string
	logger     arbor.ILogger
}

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, config *common.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Username: config.Username,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// NewRedisQueue wraps a client. The client is shared, so Close leaves it open.
func NewRedisQueue(client *redis.Client, name string, logger arbor.ILogger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &RedisQueue{
		client:     client,
		name:       name,
		processing: name + ":processing",
		logger:     logger,
	}, nil
}

// Name returns the queue name
func (q *RedisQueue) Name() string {
	return q.name
}

// Push appends a JSON payload
func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("queue %s: payload is not valid JSON", q.name)
	}
	data, err := json.Marshal(envelope{
		ID:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", q.name, err)
	}
	return nil
}

// Receive pops the oldest message into the processing list without blocking
func (q *RedisQueue) Receive(ctx context.Context) (*models.QueueMessage, error) {
	raw, err := q.client.RPopLPush(ctx, q.name, q.processing).Result()
	if err == redis.Nil {
		return nil, models.ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q.name, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Unreadable element: remove it so it cannot block the queue
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return nil, fmt.Errorf("dropped malformed message on %s: %w", q.name, err)
	}

	return &models.QueueMessage{
		ID:           env.ID,
		Payload:      env.Payload,
		EnqueuedAt:   env.EnqueuedAt,
		ReceiveCount: 1,
		Receipt:      raw,
	}, nil
}

// Ack removes the message from the processing list
func (q *RedisQueue) Ack(ctx context.Context, msg *models.QueueMessage) error {
	if err := q.client.LRem(ctx, q.processing, 1, msg.Receipt).Err(); err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", msg.ID, q.name, err)
	}
	return nil
}

// Len returns the number of waiting messages
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Recover moves every in-flight message back onto the queue.
// Only safe when no other consumer of this queue is running.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.name).Err()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover %s: %w", q.processing, err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Info().Str("queue", q.name).Int("recovered", moved).Msg("Requeued in-flight messages")
	}
	return moved, nil
}

// Close is a no-op; the client is shared by the queue set
func (q *RedisQueue) Close() error {
	return nil
}
