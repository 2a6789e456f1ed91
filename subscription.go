package nodewatch

import (
	"errors"
	"strings"
	"time"
)

// Defaults for a subscription. Threshold and grace bound how long a dead
// node can keep looking connected: threshold × interval + grace.
const (
	defaultInterval         = 15 * time.Second
	defaultTimeout          = 10 * time.Second
	defaultFailureThreshold = 3
	defaultGrace            = 3 * time.Second
	defaultBootstrapGrace   = 3 * time.Second
)

// Subscription describes one data feed to poll: an endpoint path on the
// active node plus the cadence and resilience tuning for that feed.
//
// Subscription is immutable after creation via [NewSubscription]. All fields
// are private with getter methods that return copies of mutable data (maps),
// ensuring the subscription cannot be modified after construction.
//
// Subscriptions are configured using the functional options pattern with
// [SubscriptionOption] functions such as [WithInterval], [WithTimeout],
// [WithFailureThreshold], [WithGrace], and [WithHeaders].
type Subscription struct {
	name             string
	endpoint         string
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int
	grace            time.Duration
	bootstrapGrace   time.Duration
	headers          map[string]string
}

// Name returns the subscription's display name, used for identification in
// the diagnostic API and logs.
func (s Subscription) Name() string {
	return s.name
}

// Endpoint returns the endpoint path this subscription polls,
// e.g. "/v1/monitor/cpu".
func (s Subscription) Endpoint() string {
	return s.endpoint
}

// Interval returns the fixed poll cadence. Retries reuse the same cadence;
// there is no backoff.
func (s Subscription) Interval() time.Duration {
	return s.interval
}

// Timeout returns the per-request timeout.
// Defaults to 10 seconds if not explicitly set via [WithTimeout].
func (s Subscription) Timeout() time.Duration {
	return s.timeout
}

// FailureThreshold returns the consecutive-failure count at which the
// subscription demotes from connected to retrying. Defaults to 3.
func (s Subscription) FailureThreshold() int {
	return s.failureThreshold
}

// Grace returns how long the subscription stays in retrying before demoting
// to disconnected, unless a success arrives first. Defaults to 3 seconds.
func (s Subscription) Grace() time.Duration {
	return s.grace
}

// BootstrapGrace returns how long the initial loading state may last without
// a single successful response. Defaults to 3 seconds.
func (s Subscription) BootstrapGrace() time.Duration {
	return s.bootstrapGrace
}

// Headers returns a copy of the subscription's extra HTTP headers.
// Returns nil if no custom headers are set.
func (s Subscription) Headers() map[string]string {
	return copyMap(s.headers)
}

// NewSubscription creates a [Subscription] with the given name, endpoint
// path, and options.
//
// The name identifies the feed in the diagnostic API and must be unique
// within a watcher. The endpoint is a path resolved against the active
// node's base address and must start with "/".
//
// Example:
//
//	sub, err := nodewatch.NewSubscription("cpu", "/v1/monitor/cpu",
//	    nodewatch.WithInterval(time.Second),
//	    nodewatch.WithTimeout(5 * time.Second),
//	)
func NewSubscription(name, endpoint string, opts ...SubscriptionOption) (Subscription, error) {
	if name == "" {
		return Subscription{}, errors.New("subscription name cannot be empty")
	}
	if !strings.HasPrefix(endpoint, "/") {
		return Subscription{}, errors.New("endpoint must be a path starting with /")
	}

	cfg := &subscriptionConfig{
		interval:         defaultInterval,
		timeout:          defaultTimeout,
		failureThreshold: defaultFailureThreshold,
		grace:            defaultGrace,
		bootstrapGrace:   defaultBootstrapGrace,
		headers:          make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Subscription{}, err
		}
	}

	return Subscription{
		name:             name,
		endpoint:         endpoint,
		interval:         cfg.interval,
		timeout:          cfg.timeout,
		failureThreshold: cfg.failureThreshold,
		grace:            cfg.grace,
		bootstrapGrace:   cfg.bootstrapGrace,
		headers:          cfg.headers,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
