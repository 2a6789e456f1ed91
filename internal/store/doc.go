// Package store provides in-memory storage of the latest sample per
// subscription for nodewatch.
//
// The store backs the diagnostic HTTP API: it keeps the most recent poll
// outcome for every subscription and fans updates out to subscribers over
// buffered channels (used by the SSE stream). Stale data is kept on purpose:
// a subscription that goes disconnected still shows its last payload rather
// than blanking out.
//
// Users of the nodewatch library should not need to interact with this
// package directly.
package store
