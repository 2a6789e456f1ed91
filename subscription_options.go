package nodewatch

import (
	"errors"
	"time"
)

// subscriptionConfig holds mutable state during subscription construction.
type subscriptionConfig struct {
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int
	grace            time.Duration
	bootstrapGrace   time.Duration
	headers          map[string]string
}

// SubscriptionOption is a function that configures a [Subscription] during
// construction.
//
// SubscriptionOption implements the functional options pattern, allowing
// optional configuration to be passed to [NewSubscription] in a type-safe,
// extensible way. Options return an error if validation fails.
type SubscriptionOption func(*subscriptionConfig) error

// WithInterval sets the fixed poll cadence for this subscription.
//
// Intervals are deliberately per-subscription: fast metrics legitimately
// poll every second while slow lookups poll every few minutes. Retries after
// failures reuse the same cadence. Defaults to 15 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) SubscriptionOption {
	return func(cfg *subscriptionConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithTimeout sets the per-request timeout for this subscription.
//
// A request exceeding the timeout is cancelled and counted as a single
// failure. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) SubscriptionOption {
	return func(cfg *subscriptionConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithFailureThreshold sets how many consecutive failures demote the
// subscription from connected to retrying. Defaults to 3, which absorbs
// transient blips (a dropped packet, a GC pause on the node) without
// flickering the status.
//
// Returns an error if the threshold is not positive.
func WithFailureThreshold(n int) SubscriptionOption {
	return func(cfg *subscriptionConfig) error {
		if n <= 0 {
			return errors.New("failure threshold must be positive")
		}
		cfg.failureThreshold = n
		return nil
	}
}

// WithGrace sets how long the subscription stays in retrying before demoting
// to disconnected, unless a success arrives first. Defaults to 3 seconds.
//
// Returns an error if the duration is zero or negative.
func WithGrace(d time.Duration) SubscriptionOption {
	return func(cfg *subscriptionConfig) error {
		if d <= 0 {
			return errors.New("grace must be positive")
		}
		cfg.grace = d
		return nil
	}
}

// WithBootstrapGrace sets how long the initial loading state may last
// without a single success before demoting straight to disconnected, so a
// first load against an unreachable node does not spin forever.
// Defaults to 3 seconds.
//
// Returns an error if the duration is zero or negative.
func WithBootstrapGrace(d time.Duration) SubscriptionOption {
	return func(cfg *subscriptionConfig) error {
		if d <= 0 {
			return errors.New("bootstrap grace must be positive")
		}
		cfg.bootstrapGrace = d
		return nil
	}
}

// WithHeaders adds extra HTTP headers to every poll request of this
// subscription. The Authorization header cannot be overridden; the transport
// always attaches the freshly derived token.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) SubscriptionOption {
	return func(cfg *subscriptionConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}
