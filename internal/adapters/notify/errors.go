package notify

import "errors"

// Notification errors.
var (
	// ErrDeliveryFailed is returned when a webhook never accepted an update.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrPermanent marks responses that are not worth retrying.
	ErrPermanent = errors.New("permanent delivery error")
	// ErrOutboxFull is returned when Async has no room for an update.
	ErrOutboxFull = errors.New("notification outbox full")
	// ErrOutboxClosed is returned by Async after Close.
	ErrOutboxClosed = errors.New("notification outbox closed")
	// ErrInvalidEndpoint is returned for an empty or malformed webhook URL.
	ErrInvalidEndpoint = errors.New("invalid webhook endpoint")
)
