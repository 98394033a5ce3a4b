package models

import "errors"

var (
	// ErrNotFound is returned by storage lookups that match nothing
	ErrNotFound = errors.New("not found")

	// ErrNoMessage is returned when a queue is empty
	ErrNoMessage = errors.New("no messages in queue")

	// ErrQuotaExhausted is returned when the local geocoding quota refuses a call
	ErrQuotaExhausted = errors.New("geocoding quota exhausted")

	// ErrMissingTitle marks a raw payload without a usable title
	ErrMissingTitle = errors.New("missing title")

	// ErrMissingStart marks a raw payload without a parseable start timestamp
	ErrMissingStart = errors.New("missing start timestamp")

	// ErrMissingRegion marks a record whose region could not be resolved or hinted
	ErrMissingRegion = errors.New("missing region")

	// ErrUnknownPayload marks a raw payload whose shape has no extractor
	ErrUnknownPayload = errors.New("unrecognized payload shape")

	// ErrNoEvent marks a structured-data payload that describes something other than an event
	ErrNoEvent = errors.New("payload is not an event")
)
