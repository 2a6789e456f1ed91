package nodewatch

import (
	"encoding/json"
	"time"
)

// Status represents the connection state of one polling subscription.
//
// Status is a string type that can hold one of four predefined values:
// [StatusLoading], [StatusConnected], [StatusRetrying], or
// [StatusDisconnected]. Using a string type allows for easy JSON
// serialization and human-readable logging while maintaining type safety
// through the defined constants.
//
// Within a failure episode the status only degrades (connected → retrying →
// disconnected); any successful poll returns it to [StatusConnected]
// immediately.
type Status string

const (
	// StatusLoading is the initial state before the first response.
	StatusLoading Status = "loading"

	// StatusConnected means the most recent poll succeeded.
	StatusConnected Status = "connected"

	// StatusRetrying means consecutive failures reached the subscription's
	// threshold; the session keeps polling at its normal cadence and will
	// demote to disconnected if the grace window passes without a success.
	StatusRetrying Status = "retrying"

	// StatusDisconnected means the node is considered unreachable. The last
	// delivered payload remains available so consumers can keep showing
	// stale data instead of blanking out.
	StatusDisconnected Status = "disconnected"
)

// String returns the string representation of the status.
// This implements the fmt.Stringer interface.
func (s Status) String() string {
	return string(s)
}

// Sample holds the outcome of one poll cycle of a subscription.
//
// Sample is immutable after creation. On success, Payload carries the data
// field of the node's response envelope, passed through unparsed; the
// payload's schema belongs to the endpoint, not to this client.
type Sample struct {
	// Subscription is the name of the subscription that produced the sample.
	Subscription string

	// Endpoint is the polled endpoint path.
	Endpoint string

	// NodeID identifies the node the request targeted, when one was active.
	NodeID string

	// Status is the subscription's connection status after this cycle.
	Status Status

	// Payload is the delivered data payload. nil for failed cycles.
	Payload json.RawMessage

	// StatusCode is the HTTP status of the poll, including the synthetic
	// codes the transport substitutes for configuration (400) and
	// network (503) failures.
	StatusCode int

	// AuthRejected is true when the node rejected the bearer token (HTTP
	// 403). Unlike network failures this will not heal by retrying with the
	// same secret; a UI should prompt for re-authentication.
	AuthRejected bool

	// Failures is the consecutive-failure count after this cycle.
	Failures int

	// Latency is the time the poll request took.
	Latency time.Duration

	// CheckedAt is when the cycle completed.
	CheckedAt time.Time

	// Err records the underlying failure cause, if any. Informational only;
	// failures are fully described by StatusCode and Status.
	Err error
}
