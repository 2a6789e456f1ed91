package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/nodewatch/internal/transport"
)

// Default tuning for a subscription. The threshold and grace values bound
// how long a truly-down node can masquerade as connected:
// threshold*interval + grace.
const (
	DefaultInterval         = 15 * time.Second
	DefaultTimeout          = 10 * time.Second
	DefaultFailureThreshold = 3
	DefaultGrace            = 3 * time.Second
	DefaultBootstrapGrace   = 3 * time.Second
)

// Status is the connection status of one polling session.
type Status string

const (
	// StatusLoading is the initial state: no response processed yet.
	StatusLoading Status = "loading"

	// StatusConnected means the most recent poll succeeded.
	StatusConnected Status = "connected"

	// StatusRetrying means consecutive failures reached the threshold and
	// the session is inside the demotion grace window.
	StatusRetrying Status = "retrying"

	// StatusDisconnected means the failure state outlived the grace window
	// (or no response ever arrived within the bootstrap grace).
	StatusDisconnected Status = "disconnected"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Envelope is the JSON wrapper every metrics endpoint returns. Data is
// passed through to the consumer unparsed; its schema belongs to the
// endpoint, not to this client.
type Envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Sample is the outcome of one completed poll cycle.
type Sample struct {
	// Subscription is the name of the subscription that produced the sample.
	Subscription string

	// Endpoint is the polled endpoint path.
	Endpoint string

	// NodeID identifies the node the request targeted, when one was active.
	NodeID string

	// Status is the session status after applying this cycle's outcome.
	Status Status

	// Payload is the envelope's data field (or the raw body for responses
	// that are not envelope-shaped). nil for failed cycles.
	Payload json.RawMessage

	// StatusCode is the HTTP status of the response, including the
	// transport's synthetic codes.
	StatusCode int

	// AuthRejected is true when the node rejected the bearer token (403).
	// A UI should prompt for re-authentication rather than wait out a
	// retry that can never succeed.
	AuthRejected bool

	// Failures is the consecutive-failure count after this cycle.
	Failures int

	// Latency is the time the request took.
	Latency time.Duration

	// CheckedAt is when the cycle completed.
	CheckedAt time.Time

	// Err records the underlying cause for failed cycles. Informational.
	Err error
}

// Transport issues one authenticated request. Implemented by
// [transport.Client] in production and by fakes in tests.
type Transport interface {
	Request(ctx context.Context, endpoint string, headers map[string]string) transport.Result
}

// Config tunes one polling session.
type Config struct {
	// Name identifies the subscription in samples and logs.
	Name string

	// Endpoint is the path to poll, e.g. "/v1/monitor/cpu".
	Endpoint string

	// Interval is the fixed poll cadence. Retries reuse the same cadence;
	// there is no backoff. Zero means DefaultInterval.
	Interval time.Duration

	// Timeout cancels an individual request that takes too long.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// FailureThreshold is the consecutive-failure count that demotes
	// connected to retrying. Zero means DefaultFailureThreshold.
	FailureThreshold int

	// Grace is how long the session stays in retrying before demotion to
	// disconnected, unless a success arrives first. Zero means DefaultGrace.
	Grace time.Duration

	// BootstrapGrace bounds how long the initial loading state may last
	// without any successful response. Zero means DefaultBootstrapGrace.
	BootstrapGrace time.Duration

	// Headers are extra HTTP headers sent with every poll request.
	Headers map[string]string

	// OnData receives the payload of each successful poll.
	OnData func(json.RawMessage)

	// OnStatus is invoked whenever the connection status changes.
	OnStatus func(Status)

	// OnSample is invoked after every completed cycle, success or failure.
	OnSample func(Sample)

	// Logger for session events. Defaults to slog.Default().
	Logger *slog.Logger
}

// withDefaults fills zero fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.BootstrapGrace <= 0 {
		c.BootstrapGrace = DefaultBootstrapGrace
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Session is one subscription's polling loop.
//
// A session guarantees at most one in-flight request at any time: a cycle
// that fires while the previous request is still outstanding is skipped
// outright, never queued, so responses are always processed in issuance
// order. The next cycle is scheduled only after the current result has been
// fully delivered to the consumer, so callbacks from consecutive cycles
// never overlap. All scheduling uses cancellable timers owned by the
// session, and [Session.Stop] tears everything down in one idempotent call.
//
// All methods are safe for concurrent use.
type Session struct {
	cfg    Config
	client Transport
	id     string // correlation id for logs

	// cbMu serializes consumer deliveries: cycle callbacks and the status
	// notifications fired by the demotion timers never run concurrently
	cbMu sync.Mutex

	mu             sync.Mutex
	status         Status
	failures       int
	inFlight       bool
	started        bool
	stopped        bool
	cycleTimer     *time.Timer
	demoteTimer    *time.Timer
	bootTimer      *time.Timer
	cancelInFlight context.CancelFunc
}

// NewSession creates a session polling cfg.Endpoint through client. The
// session does nothing until [Session.Start].
func NewSession(client Transport, cfg Config) *Session {
	return &Session{
		cfg:    cfg.withDefaults(),
		client: client,
		id:     uuid.NewString(),
		status: StatusLoading,
	}
}

// Start begins polling: an immediate first cycle, then one cycle per
// interval. The bootstrap grace timer starts now, so a node that never
// answers demotes the session to disconnected instead of loading forever.
//
// Start is idempotent; calls after the first (or after Stop) are no-ops.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.bootTimer = time.AfterFunc(s.cfg.BootstrapGrace, s.bootstrapExpired)
	s.mu.Unlock()

	go s.cycle()
}

// Stop tears the session down: no further cycles run even if one is already
// scheduled, the in-flight request (if any) is cancelled, and any pending
// demotion timer is cancelled. Safe to call multiple times.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stopTimer(s.cycleTimer)
	stopTimer(s.demoteTimer)
	stopTimer(s.bootTimer)
	cancel := s.cancelInFlight
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Status returns the session's current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// cycle runs one poll iteration. It is invoked by Start and then re-armed
// via a timer after each completed iteration.
func (s *Session) cycle() {
	s.mu.Lock()
	if s.stopped || s.inFlight {
		// skip, never queue: at most one outstanding request per session
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	s.cancelInFlight = cancel
	s.mu.Unlock()

	res := s.client.Request(ctx, s.cfg.Endpoint, s.cfg.Headers)
	cancel()

	s.mu.Lock()
	s.inFlight = false
	s.cancelInFlight = nil
	if s.stopped {
		// teardown raced the request; its outcome no longer counts
		s.mu.Unlock()
		return
	}

	sample := Sample{
		Subscription: s.cfg.Name,
		Endpoint:     s.cfg.Endpoint,
		NodeID:       res.NodeID,
		StatusCode:   res.StatusCode,
		AuthRejected: res.AuthRejected(),
		Latency:      res.Latency,
		CheckedAt:    time.Now(),
		Err:          res.Err,
	}

	var changed bool
	if res.OK() {
		sample.Payload = extractPayload(res.Body)
		s.failures = 0
		stopTimer(s.demoteTimer)
		s.demoteTimer = nil
		stopTimer(s.bootTimer)
		s.bootTimer = nil
		changed = s.setStatusLocked(StatusConnected)
	} else {
		s.failures++
		if s.status == StatusConnected && s.failures >= s.cfg.FailureThreshold {
			changed = s.setStatusLocked(StatusRetrying)
			s.demoteTimer = time.AfterFunc(s.cfg.Grace, s.graceExpired)
		}
	}
	sample.Status = s.status
	sample.Failures = s.failures
	s.mu.Unlock()

	s.deliver(res, sample, changed)

	// the next cycle is armed only after the result has been fully
	// processed: a callback slower than the interval delays polling rather
	// than letting deliveries from two cycles interleave
	s.mu.Lock()
	if !s.stopped {
		// retries reuse the normal cadence: one timer, re-armed every cycle
		s.cycleTimer = time.AfterFunc(s.cfg.Interval, s.cycle)
	}
	s.mu.Unlock()
}

// deliver logs the cycle outcome and runs the consumer callbacks. Callers
// must not hold the session lock.
func (s *Session) deliver(res transport.Result, sample Sample, changed bool) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if res.OK() {
		s.cfg.Logger.Debug("poll completed",
			"subscription", s.cfg.Name,
			"endpoint", s.cfg.Endpoint,
			"latency_ms", res.Latency.Milliseconds(),
		)
		if s.cfg.OnData != nil {
			s.invoke("data", func() { s.cfg.OnData(sample.Payload) })
		}
	} else {
		s.cfg.Logger.Warn("poll failed",
			"subscription", s.cfg.Name,
			"endpoint", s.cfg.Endpoint,
			"status_code", res.StatusCode,
			"failures", sample.Failures,
			"auth_rejected", sample.AuthRejected,
			"error", errString(res.Err),
		)
	}
	if changed && s.cfg.OnStatus != nil {
		status := sample.Status
		s.invoke("status", func() { s.cfg.OnStatus(status) })
	}
	if s.cfg.OnSample != nil {
		s.invoke("sample", func() { s.cfg.OnSample(sample) })
	}
}

// bootstrapExpired demotes a session still in loading to disconnected.
func (s *Session) bootstrapExpired() {
	s.mu.Lock()
	if s.stopped || s.status != StatusLoading {
		s.mu.Unlock()
		return
	}
	changed := s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.notifyStatus(changed, StatusDisconnected)
}

// graceExpired demotes a session still in retrying to disconnected.
func (s *Session) graceExpired() {
	s.mu.Lock()
	if s.stopped || s.status != StatusRetrying {
		s.mu.Unlock()
		return
	}
	changed := s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.notifyStatus(changed, StatusDisconnected)
}

// setStatusLocked updates the status and reports whether it changed.
// Caller must hold the lock.
func (s *Session) setStatusLocked(status Status) bool {
	if s.status == status {
		return false
	}
	s.cfg.Logger.Debug("status change",
		"subscription", s.cfg.Name,
		"from", s.status,
		"to", status,
	)
	s.status = status
	return true
}

func (s *Session) notifyStatus(changed bool, status Status) {
	if !changed || s.cfg.OnStatus == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.invoke("status", func() { s.cfg.OnStatus(status) })
}

// invoke runs a consumer callback with panic recovery. A panicking widget
// must not take its polling session down with it.
func (s *Session) invoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.cfg.Logger.Error("callback panic",
				"correlation_id", correlationID,
				"subscription", s.cfg.Name,
				"callback", kind,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// extractPayload unwraps the response envelope. Responses that are not
// envelope-shaped are handed through whole; the payload is opaque either way.
func extractPayload(body []byte) json.RawMessage {
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return json.RawMessage(body)
}

// stopTimer stops a timer if it exists. Stopping an already-fired or
// already-stopped timer is harmless, which keeps teardown idempotent.
func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
