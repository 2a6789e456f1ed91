package nodewatch

import (
	"errors"
	"log/slog"

	"github.com/jpalmerr/nodewatch/registry"
)

// watcherConfig holds mutable state during Watcher construction.
type watcherConfig struct {
	registry        *registry.Registry
	subscriptions   []Subscription
	port            int
	logger          *slog.Logger
	sampleCallbacks []func(Sample)
}

// Option is a function that configures a [Watcher] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithRegistry], [WithSubscription], [WithSubscriptions],
// [WithPort], [WithLogger], [WithSampleCallback].
type Option func(*watcherConfig) error

// WithRegistry sets the node registry the watcher resolves the active node
// from. Without it the watcher runs against an empty in-memory registry and
// every poll degrades deterministically (no active node), which is useful in
// tests but not much else.
func WithRegistry(reg *registry.Registry) Option {
	return func(cfg *watcherConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithSubscription adds a single [Subscription] for [Watcher.Start] to run.
//
// Can be called multiple times. Subscriptions started programmatically via
// [Watcher.StartPolling] do not need to be configured here.
func WithSubscription(s Subscription) Option {
	return func(cfg *watcherConfig) error {
		cfg.subscriptions = append(cfg.subscriptions, s)
		return nil
	}
}

// WithSubscriptions adds multiple [Subscription] values for [Watcher.Start]
// to run. Equivalent to calling [WithSubscription] multiple times.
func WithSubscriptions(subs ...Subscription) Option {
	return func(cfg *watcherConfig) error {
		cfg.subscriptions = append(cfg.subscriptions, subs...)
		return nil
	}
}

// WithPort sets the TCP port for the diagnostic HTTP API served by
// [Watcher.Start]. Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *watcherConfig) error {
		cfg.port = port
		return nil
	}
}

// WithLogger sets the logger used by the watcher and its sessions.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *watcherConfig) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = l
		return nil
	}
}

// WithSampleCallback registers a callback invoked with every completed poll
// cycle across all subscriptions, success or failure.
//
// Callbacks run on the polling goroutine after the sample is recorded in
// the diagnostic store; keep them fast. Panics in callbacks are recovered
// and logged, never propagated.
func WithSampleCallback(cb func(Sample)) Option {
	return func(cfg *watcherConfig) error {
		if cb == nil {
			return errors.New("sample callback cannot be nil")
		}
		cfg.sampleCallbacks = append(cfg.sampleCallbacks, cb)
		return nil
	}
}
