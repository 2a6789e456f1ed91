// Package nodewatch is an authenticated, connection-resilient polling client
// for remote management agents ("nodes").
//
// A node exposes a versioned metrics API over HTTP. nodewatch authenticates
// every request with a short-lived bearer token derived from a long-term
// shared secret and the current time window (no handshake, no stored
// session), and wraps each data feed in a resilient polling session that
// absorbs transient failures before degrading its connection status.
//
// The typical SDK lifecycle:
//
//	reg, _ := registry.Load("nodes.yaml")
//
//	nw, err := nodewatch.New(nodewatch.WithRegistry(reg))
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	sub, _ := nodewatch.NewSubscription("cpu", "/v1/monitor/cpu",
//	    nodewatch.WithInterval(time.Second),
//	)
//	handle, _ := nw.StartPolling(sub,
//	    func(payload json.RawMessage) { /* render */ },
//	    func(status nodewatch.Status) { /* banner */ },
//	)
//	defer handle.Stop()
//
// Alternatively, [Watcher.Start] runs a configured set of subscriptions and
// serves their latest samples over a JSON/SSE diagnostic API, which is how
// the nodewatch CLI operates.
package nodewatch
