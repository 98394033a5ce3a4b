package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/models"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func setupTestBadger(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// exerciseFIFO checks ordering, empty-queue behaviour and ack on any backend
func exerciseFIFO(t *testing.T, q interfaces.PackageQueue) {
	ctx := context.Background()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage, "empty queue is not an error condition")

	for _, p := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, q.Push(ctx, []byte(p)))
		time.Sleep(time.Millisecond) // distinct enqueue timestamps
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, want, string(msg.Payload))
		require.NoError(t, q.Ack(ctx, msg))
	}

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestRedisQueue_FIFO(t *testing.T) {
	client, _ := setupTestRedis(t)
	q, err := NewRedisQueue(client, "url_queue", arbor.NewLogger())
	require.NoError(t, err)
	exerciseFIFO(t, q)
}

func TestRedisQueue_RecoverInFlight(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	q, err := NewRedisQueue(client, "jsonld_raw", arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, q.Push(ctx, []byte(`{"a":1}`)))
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(msg.Payload))

	// Consumer dies before ack: message sits in the processing list
	processing, err := mr.List("jsonld_raw:processing")
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	moved, err := Recover(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)
	require.NoError(t, q.Ack(ctx, again))
	assert.False(t, mr.Exists("jsonld_raw:processing"))
}

func TestRedisQueue_RejectsInvalidJSON(t *testing.T) {
	client, _ := setupTestRedis(t)
	q, err := NewRedisQueue(client, "url_queue", arbor.NewLogger())
	require.NoError(t, err)
	assert.Error(t, q.Push(context.Background(), []byte("not json")))
}

func TestBadgerQueue_FIFO(t *testing.T) {
	q, err := NewBadgerQueue(setupTestBadger(t), "url_queue", time.Minute, 3, arbor.NewLogger())
	require.NoError(t, err)
	exerciseFIFO(t, q)
}

func TestBadgerQueue_VisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q, err := NewBadgerQueue(setupTestBadger(t), "jsonld_raw", 20*time.Millisecond, 2, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, q.Push(ctx, []byte(`{"a":1}`)))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReceiveCount)

	// Invisible while in flight
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	time.Sleep(40 * time.Millisecond)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ReceiveCount)

	// Max receive reached: dropped on the next attempt
	time.Sleep(40 * time.Millisecond)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerQueue_PoisonMessageStaysDropped(t *testing.T) {
	ctx := context.Background()
	q, err := NewBadgerQueue(setupTestBadger(t), "jsonld_raw", 10*time.Millisecond, 1, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, q.Push(ctx, []byte(`{"a":1}`)))
	_, err = q.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err = q.Receive(ctx)
		assert.ErrorIs(t, err, models.ErrNoMessage)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "poll %d", i)
	}

	// A fresh message behind the dropped one is still delivered
	require.NoError(t, q.Push(ctx, []byte(`{"b":2}`)))
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(msg.Payload))
}
