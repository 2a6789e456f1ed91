package nodewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/nodewatch/internal/poller"
	"github.com/jpalmerr/nodewatch/internal/server"
	"github.com/jpalmerr/nodewatch/internal/store"
	"github.com/jpalmerr/nodewatch/internal/transport"
	"github.com/jpalmerr/nodewatch/registry"
	"github.com/jpalmerr/nodewatch/token"
)

const defaultPort = 8080

// IssueToken derives the current bearer token for a base64-encoded secret.
//
// Exposed for diagnostic and manual use (the CLI's token command, curl
// against a node). It never fails: an undecodable or wrong-length secret
// yields a sentinel token every conforming verifier rejects, so callers can
// treat bad credentials like any other rejected request.
func IssueToken(secret string) string {
	return token.Generate(secret, time.Now())
}

// Watcher is the main orchestrator for authenticated node polling.
//
// A Watcher owns the authenticated transport against the active node and a
// set of polling sessions, one per subscription. It is created with [New]
// and used either programmatically ([Watcher.StartPolling] per data feed) or
// as a long-running service ([Watcher.Start], which runs the configured
// subscriptions and serves the diagnostic API).
type Watcher struct {
	registry        *registry.Registry
	client          *transport.Client
	store           *store.MemoryStore
	subscriptions   []Subscription
	port            int
	logger          *slog.Logger
	sampleCallbacks []func(Sample)

	mu      sync.Mutex
	handles []*Handle
}

// Handle controls one running polling subscription.
//
// A Handle is returned by [Watcher.StartPolling]. Stopping it guarantees no
// further network calls are issued by that subscription, even if a cycle was
// already scheduled.
type Handle struct {
	session *poller.Session
}

// Stop tears the subscription down: the scheduled next cycle, any in-flight
// request, and any pending status demotion are all cancelled. Idempotent and
// safe to call multiple times.
func (h *Handle) Stop() {
	h.session.Stop()
}

// Status returns the subscription's current connection status.
func (h *Handle) Status() Status {
	return Status(h.session.Status())
}

// New creates a [Watcher] with the given options.
//
// All options have defaults: an empty in-memory registry (every poll then
// reports the no-active-node failure), port 8080, slog.Default(), and no
// subscriptions. Subscription names must be unique.
//
// Example:
//
//	nw, err := nodewatch.New(
//	    nodewatch.WithRegistry(reg),
//	    nodewatch.WithSubscription(cpuSub),
//	    nodewatch.WithPort(9090),
//	)
func New(opts ...Option) (*Watcher, error) {
	cfg := &watcherConfig{
		port: defaultPort,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// validate subscription name uniqueness (names key the diagnostic store)
	seen := make(map[string]bool, len(cfg.subscriptions))
	for _, sub := range cfg.subscriptions {
		if seen[sub.name] {
			return nil, fmt.Errorf("duplicate subscription name: %q", sub.name)
		}
		seen[sub.name] = true
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	reg := cfg.registry
	if reg == nil {
		reg = registry.New()
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		registry:        reg,
		client:          transport.NewClient(registrySource{reg}),
		store:           store.NewMemoryStore(),
		subscriptions:   cfg.subscriptions,
		port:            cfg.port,
		logger:          logger,
		sampleCallbacks: cfg.sampleCallbacks,
	}, nil
}

// StartPolling begins polling one subscription and returns its [Handle].
//
// onData receives the payload of every successful poll, passed through
// unparsed. onStatus is invoked on every connection status change. Either
// may be nil. Both run on the polling goroutine with panic recovery.
//
// Each call creates an independent session with its own failure bookkeeping,
// even when subscriptions target the same endpoint.
func (w *Watcher) StartPolling(sub Subscription, onData func(json.RawMessage), onStatus func(Status)) (*Handle, error) {
	if sub.name == "" {
		return nil, errors.New("subscription must be created with NewSubscription")
	}

	cfg := poller.Config{
		Name:             sub.name,
		Endpoint:         sub.endpoint,
		Interval:         sub.interval,
		Timeout:          sub.timeout,
		FailureThreshold: sub.failureThreshold,
		Grace:            sub.grace,
		BootstrapGrace:   sub.bootstrapGrace,
		Headers:          sub.headers,
		Logger:           w.logger,
		OnSample:         w.recordSample,
	}
	if onData != nil {
		cfg.OnData = onData
	}
	if onStatus != nil {
		cfg.OnStatus = func(s poller.Status) { onStatus(Status(s)) }
	}

	session := poller.NewSession(w.client, cfg)
	handle := &Handle{session: session}

	w.mu.Lock()
	w.handles = append(w.handles, handle)
	w.mu.Unlock()

	session.Start()
	return handle, nil
}

// Start runs the configured subscriptions and serves the diagnostic API.
//
// Start is a blocking call that runs until the provided context is
// cancelled. During execution:
//
//   - every configured subscription polls at its own cadence
//   - latest samples are served at /api/status and streamed at /api/sse
//   - the node registry view is served at /api/nodes
//
// The caller controls the lifecycle via context cancellation. For signal
// handling, use [signal.NotifyContext]. Returns nil on graceful shutdown, or
// an error if no subscriptions are configured or the HTTP server fails to
// start.
func (w *Watcher) Start(ctx context.Context) error {
	if len(w.subscriptions) == 0 {
		return errors.New("at least one subscription is required")
	}

	w.logger.Info("nodewatch starting", "subscription_count", len(w.subscriptions))
	if node, ok := w.registry.ActiveNode(); ok {
		w.logger.Info("active node", "id", node.ID, "name", node.Name, "address", node.Address)
	} else {
		w.logger.Warn("no active node configured; polls will fail until one is set")
	}

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	httpServer := server.NewServer(w.store, w.registry, w.port, w.logger)
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	w.logger.Info("diagnostic api available", "url", fmt.Sprintf("http://localhost:%d/api/status", w.port))

	handles := make([]*Handle, 0, len(w.subscriptions))
	for _, sub := range w.subscriptions {
		handle, err := w.StartPolling(sub, nil, nil)
		if err != nil {
			for _, h := range handles {
				h.Stop()
			}
			return err
		}
		handles = append(handles, handle)
	}

	<-ctx.Done()

	for _, h := range handles {
		h.Stop()
	}
	w.client.Close()
	w.logger.Info("nodewatch stopped")
	return nil
}

// ConnectionStatus reports the watcher-wide connection status: the most
// favorable status across all running subscriptions, since any single
// successful feed proves the active node is reachable. With no running
// subscriptions it reports [StatusLoading].
func (w *Watcher) ConnectionStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	best := StatusLoading
	rank := map[Status]int{
		StatusLoading:      0,
		StatusDisconnected: 1,
		StatusRetrying:     2,
		StatusConnected:    3,
	}
	for _, h := range w.handles {
		if s := h.Status(); rank[s] > rank[best] {
			best = s
		}
	}
	return best
}

// ActiveToken derives the current bearer token for the active node, for
// diagnostic use. Never fails: with no active node (or a broken secret) it
// returns the sentinel token, which no verifier accepts.
func (w *Watcher) ActiveToken() string {
	node, ok := w.registry.ActiveNode()
	if !ok {
		return token.Invalid
	}
	return IssueToken(node.Secret)
}

// Subscriptions returns a copy of the configured subscriptions.
func (w *Watcher) Subscriptions() []Subscription {
	cp := make([]Subscription, len(w.subscriptions))
	copy(cp, w.subscriptions)
	return cp
}

// Port returns the configured diagnostic API port.
func (w *Watcher) Port() int {
	return w.port
}

// recordSample mirrors every poll outcome into the diagnostic store, updates
// the polled node's health, and fans out to registered sample callbacks.
func (w *Watcher) recordSample(ps poller.Sample) {
	sample := Sample{
		Subscription: ps.Subscription,
		Endpoint:     ps.Endpoint,
		NodeID:       ps.NodeID,
		Status:       Status(ps.Status),
		Payload:      ps.Payload,
		StatusCode:   ps.StatusCode,
		AuthRejected: ps.AuthRejected,
		Failures:     ps.Failures,
		Latency:      ps.Latency,
		CheckedAt:    ps.CheckedAt,
		Err:          ps.Err,
	}

	// store update first (callbacks fire after data is persisted)
	w.store.Update(toStoreSample(sample))

	if sample.NodeID != "" {
		switch sample.Status {
		case StatusConnected:
			w.registry.SetStatus(sample.NodeID, registry.StatusOnline)
		case StatusDisconnected:
			w.registry.SetStatus(sample.NodeID, registry.StatusOffline)
		}
	}

	for _, cb := range w.sampleCallbacks {
		invokeCallbackSafe(cb, sample, w.logger)
	}
}

// toStoreSample converts a public sample to its storage representation.
func toStoreSample(s Sample) store.Sample {
	var errStr *string
	if s.Err != nil {
		msg := s.Err.Error()
		errStr = &msg
	}

	return store.Sample{
		Subscription: s.Subscription,
		Endpoint:     s.Endpoint,
		NodeID:       s.NodeID,
		Status:       s.Status.String(),
		Payload:      s.Payload,
		StatusCode:   s.StatusCode,
		AuthRejected: s.AuthRejected,
		Failures:     s.Failures,
		LatencyMs:    s.Latency.Milliseconds(),
		CheckedAt:    s.CheckedAt,
		Error:        errStr,
	}
}

// invokeCallbackSafe calls a sample callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Sample), sample Sample, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sample callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", r,
				"subscription", sample.Subscription,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(sample)
}

// registrySource adapts the registry to the transport's node source.
type registrySource struct {
	reg *registry.Registry
}

func (r registrySource) ActiveNode() (transport.Node, bool) {
	node, ok := r.reg.ActiveNode()
	if !ok {
		return transport.Node{}, false
	}
	return transport.Node{ID: node.ID, Address: node.Address, Secret: node.Secret}, true
}
