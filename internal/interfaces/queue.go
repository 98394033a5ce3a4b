package interfaces

import (
	"context"

	"github.com/ternarybob/tempo/internal/models"
)

// PackageQueue is an at-least-once FIFO of JSON packages between pipeline stages.
// Receive never blocks: an empty queue returns models.ErrNoMessage.
type PackageQueue interface {
	Name() string
	Push(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) (*models.QueueMessage, error)
	// Ack removes a received message permanently
	Ack(ctx context.Context, msg *models.QueueMessage) error
	Len(ctx context.Context) (int64, error)
	Close() error
}
