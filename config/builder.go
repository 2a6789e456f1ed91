package config

import (
	"sort"

	"github.com/jpalmerr/nodewatch"
)

// BuildSubscriptions converts parsed configuration into SDK Subscription
// objects.
func BuildSubscriptions(cfg *Config) ([]nodewatch.Subscription, error) {
	subs := make([]nodewatch.Subscription, 0, len(cfg.Subscriptions))

	for _, sc := range cfg.Subscriptions {
		sub, err := buildSubscription(sc)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

// buildSubscription converts a single SubscriptionConfig to an SDK Subscription.
func buildSubscription(sc SubscriptionConfig) (nodewatch.Subscription, error) {
	var opts []nodewatch.SubscriptionOption

	if sc.Interval != 0 {
		opts = append(opts, nodewatch.WithInterval(sc.Interval.Duration()))
	}
	if sc.Timeout != 0 {
		opts = append(opts, nodewatch.WithTimeout(sc.Timeout.Duration()))
	}
	if sc.FailureThreshold != 0 {
		opts = append(opts, nodewatch.WithFailureThreshold(sc.FailureThreshold))
	}
	if sc.Grace != 0 {
		opts = append(opts, nodewatch.WithGrace(sc.Grace.Duration()))
	}
	if sc.BootstrapGrace != 0 {
		opts = append(opts, nodewatch.WithBootstrapGrace(sc.BootstrapGrace.Duration()))
	}
	if len(sc.Headers) > 0 {
		opts = append(opts, nodewatch.WithHeaders(mapToKeyValuePairs(sc.Headers)...))
	}

	return nodewatch.NewSubscription(sc.Name, sc.Endpoint, opts...)
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
