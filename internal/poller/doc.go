// Package poller implements the resilient polling session behind every data
// subscription.
//
// Each subscription owns one [Session]: an independent state machine that
// repeatedly fetches one endpoint through the authenticated transport,
// counts consecutive failures, and degrades its connection status in stages
// (loading, connected, retrying, disconnected) instead of flapping on the
// first dropped request. Sessions share nothing with each other; two widgets
// polling the same node still get separate failure bookkeeping.
//
// The main components are:
//
//   - [Session]: one subscription's polling loop and status state machine
//   - [Config]: per-subscription tuning (endpoint, cadence, thresholds)
//   - [Sample]: the outcome of one poll cycle
//   - [Status]: the connection status enum consumers observe
//
// Users of the nodewatch library should not need to interact with this
// package directly. Configuration is done through the main nodewatch package.
package poller
