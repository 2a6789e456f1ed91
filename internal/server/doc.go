// Package server provides the diagnostic HTTP API for nodewatch.
//
// This is the surface the (out-of-scope) dashboard UI consumes: current
// per-subscription samples as JSON, the node registry view, and a
// Server-Sent Events stream of live sample updates. The server renders
// nothing; presentation belongs entirely to its callers.
//
// Users of the nodewatch library should not need to interact with this
// package directly.
package server
