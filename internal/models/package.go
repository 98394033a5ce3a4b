package models

import (
	"encoding/json"
	"time"
)

// URLPackage is a discovered URL waiting for the fetch worker
type URLPackage struct {
	URL           string `json:"url" validate:"required,url"`
	RegionContext *int64 `json:"region_context"`
	TermContext   string `json:"term_context"`
}

// BlobPackage carries one structured-data blob and the context of the page it came from
type BlobPackage struct {
	OriginatingURL string          `json:"originating_url" validate:"required"`
	RegionContext  *int64          `json:"region_context" validate:"required"`
	TermContext    string          `json:"term_context"`
	Blob           json.RawMessage `json:"blob" validate:"required"`
}

// QueueMessage is a message received from an intermediate queue.
// Receipt identifies the delivery for acknowledgement.
type QueueMessage struct {
	ID           string    `json:"id"`
	Payload      []byte    `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	ReceiveCount int       `json:"receive_count"`
	Receipt      string    `json:"-"`
}
