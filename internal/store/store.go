package store

import (
	"encoding/json"
	"time"
)

// Sample is the storage representation of one subscription's latest poll
// outcome, optimized for JSON serialization (used by the REST API and SSE).
// It is decoupled from the poller's internal types to allow independent
// evolution.
type Sample struct {
	// Subscription is the subscription's name.
	Subscription string `json:"subscription"`

	// Endpoint is the polled endpoint path.
	Endpoint string `json:"endpoint"`

	// NodeID identifies the node the sample came from, when one was active.
	NodeID string `json:"node_id,omitempty"`

	// Status is the subscription's connection status
	// ("loading", "connected", "retrying", "disconnected").
	Status string `json:"status"`

	// Payload is the last successfully delivered data payload. It may be
	// stale: on failure the previous payload is preserved so consumers can
	// keep showing the last known data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// StatusCode is the HTTP status of the most recent poll.
	StatusCode int `json:"status_code"`

	// AuthRejected is true when the most recent poll was rejected with 403.
	AuthRejected bool `json:"auth_rejected"`

	// Failures is the current consecutive-failure count.
	Failures int `json:"failures"`

	// LatencyMs is the most recent request latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// CheckedAt is the timestamp of the most recent poll.
	CheckedAt time.Time `json:"checked_at"`

	// Error is the most recent failure cause, if any.
	Error *string `json:"error"`
}

// Store defines the interface for storing and subscribing to sample updates.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows live updates to be pushed to connected clients
// (e.g. via Server-Sent Events).
type Store interface {
	// Update stores a new sample and notifies all subscribers. Samples are
	// keyed by Subscription; an update with an empty Payload keeps the
	// previously stored payload.
	Update(sample Sample)

	// GetAll returns all currently stored samples.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []Sample

	// Subscribe returns a channel that receives sample updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Sample

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Sample)
}
