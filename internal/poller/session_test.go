package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/nodewatch/internal/transport"
)

// fakeTransport returns a scriptable result and counts requests.
type fakeTransport struct {
	mu      sync.Mutex
	respond func() transport.Result
	calls   atomic.Int32
}

func (f *fakeTransport) Request(ctx context.Context, endpoint string, headers map[string]string) transport.Result {
	f.calls.Add(1)
	f.mu.Lock()
	respond := f.respond
	f.mu.Unlock()
	return respond()
}

func (f *fakeTransport) set(respond func() transport.Result) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

func okResult() transport.Result {
	return transport.Result{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"status":"ok","data":{"load":0.2},"timestamp":1700000000}`),
		NodeID:     "node-1",
	}
}

func failResult() transport.Result {
	return transport.Result{
		StatusCode: http.StatusServiceUnavailable,
		Err:        errors.New("connection refused"),
	}
}

// testConfig returns a config with timings compressed to test scale and the
// given callbacks wired to channels.
func testConfig(statuses chan Status, samples chan Sample) Config {
	cfg := Config{
		Name:             "cpu",
		Endpoint:         "/v1/monitor/cpu",
		Interval:         10 * time.Millisecond,
		Timeout:          time.Second,
		FailureThreshold: 3,
		Grace:            80 * time.Millisecond,
		BootstrapGrace:   80 * time.Millisecond,
	}
	if statuses != nil {
		cfg.OnStatus = func(s Status) { statuses <- s }
	}
	if samples != nil {
		cfg.OnSample = func(s Sample) { samples <- s }
	}
	return cfg
}

func waitStatus(t *testing.T, ch chan Status, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func TestSession_FirstSuccessConnects(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	statuses := make(chan Status, 16)
	payloads := make(chan json.RawMessage, 16)
	cfg := testConfig(statuses, nil)
	cfg.OnData = func(p json.RawMessage) { payloads <- p }

	s := NewSession(ft, cfg)
	if s.Status() != StatusLoading {
		t.Fatalf("initial status = %q, want %q", s.Status(), StatusLoading)
	}
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusConnected)

	// the consumer receives the envelope's data field, untouched
	select {
	case p := <-payloads:
		if string(p) != `{"load":0.2}` {
			t.Errorf("payload = %s, want envelope data field", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
}

func TestSession_FailuresBelowThresholdStayConnected(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	samples := make(chan Sample, 64)
	statuses := make(chan Status, 16)
	s := NewSession(ft, testConfig(statuses, samples))
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusConnected)

	// exactly two failures, then recovery: threshold is 3
	var n atomic.Int32
	ft.set(func() transport.Result {
		if n.Add(1) <= 2 {
			return failResult()
		}
		return okResult()
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case smp := <-samples:
			if smp.Status == StatusRetrying || smp.Status == StatusDisconnected {
				t.Fatalf("status degraded to %q after fewer than threshold failures", smp.Status)
			}
			if smp.Failures == 0 && smp.StatusCode == http.StatusOK && n.Load() > 2 {
				// recovered with the counter reset; done
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for recovery sample")
		}
	}
}

func TestSession_ThresholdDemotesToRetryingThenDisconnected(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	statuses := make(chan Status, 16)
	s := NewSession(ft, testConfig(statuses, nil))
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusConnected)

	ft.set(failResult)
	waitStatus(t, statuses, StatusRetrying)
	// no success within the grace window: demotion fires
	waitStatus(t, statuses, StatusDisconnected)
}

func TestSession_SuccessDuringGraceCancelsDemotion(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	statuses := make(chan Status, 16)
	samples := make(chan Sample, 64)
	s := NewSession(ft, testConfig(statuses, samples))
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusConnected)

	ft.set(failResult)
	waitStatus(t, statuses, StatusRetrying)

	// recover before the 80ms grace expires
	ft.set(okResult)
	waitStatus(t, statuses, StatusConnected)

	// the counter must be cleared on success
	drainSamples(t, samples, func(smp Sample) bool {
		return smp.StatusCode == http.StatusOK && smp.Failures == 0
	})

	// wait out well past the original grace deadline: the pending demotion
	// timer must have been cancelled
	time.Sleep(200 * time.Millisecond)
	if got := s.Status(); got != StatusConnected {
		t.Errorf("status = %q after recovery, want %q (stale demotion fired?)", got, StatusConnected)
	}
}

func TestSession_SuccessFromDisconnectedReconnects(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(failResult)

	statuses := make(chan Status, 16)
	s := NewSession(ft, testConfig(statuses, nil))
	s.Start()
	defer s.Stop()

	// bootstrap grace expires without a single success
	waitStatus(t, statuses, StatusDisconnected)

	ft.set(okResult)
	waitStatus(t, statuses, StatusConnected)
}

func TestSession_BootstrapGraceDemotesLoading(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(failResult)

	statuses := make(chan Status, 16)
	s := NewSession(ft, testConfig(statuses, nil))
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusDisconnected)
}

func TestSession_StopHaltsPolling(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	statuses := make(chan Status, 16)
	s := NewSession(ft, testConfig(statuses, nil))
	s.Start()
	waitStatus(t, statuses, StatusConnected)

	s.Stop()
	calls := ft.calls.Load()

	// several intervals later, no further requests were issued
	time.Sleep(100 * time.Millisecond)
	if got := ft.calls.Load(); got != calls {
		t.Errorf("requests after Stop: %d", got-calls)
	}

	// idempotent
	s.Stop()
	s.Stop()
}

// TestSession_DeliveriesNeverOverlap verifies that a consumer callback
// slower than the poll interval delays the next cycle instead of running
// concurrently with it: the next cycle is scheduled only after the current
// result has been fully processed.
func TestSession_DeliveriesNeverOverlap(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	var (
		active     atomic.Int32
		overlapped atomic.Bool
		deliveries atomic.Int32
	)
	cfg := testConfig(nil, nil)
	cfg.OnData = func(json.RawMessage) {
		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer active.Add(-1)

		// six intervals long: an eagerly re-armed timer would stack cycles
		time.Sleep(60 * time.Millisecond)
		deliveries.Add(1)
	}

	s := NewSession(ft, cfg)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for deliveries.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for slow deliveries")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if overlapped.Load() {
		t.Error("OnData invocations from consecutive cycles overlapped")
	}
}

// slowTransport blocks every request until released (or its context is done)
// and counts requests.
type slowTransport struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (st *slowTransport) Request(ctx context.Context, endpoint string, headers map[string]string) transport.Result {
	st.calls.Add(1)
	select {
	case st.entered <- struct{}{}:
	default:
	}
	select {
	case <-st.release:
		return okResult()
	case <-ctx.Done():
		return transport.Result{StatusCode: http.StatusServiceUnavailable, Err: ctx.Err()}
	}
}

// TestSession_InFlightGuardSkipsNotQueues verifies that cycles firing while
// a request is still outstanding are dropped outright: no second request is
// issued, and none is queued up for when the slow request completes.
func TestSession_InFlightGuardSkipsNotQueues(t *testing.T) {
	st := &slowTransport{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	samples := make(chan Sample, 16)
	cfg := testConfig(nil, samples)
	cfg.Interval = 50 * time.Millisecond
	s := NewSession(st, cfg)
	s.Start()
	defer s.Stop()

	select {
	case <-st.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("request never started")
	}

	// cycles firing mid-request must be skipped
	for i := 0; i < 3; i++ {
		s.cycle()
	}
	if calls := st.calls.Load(); calls != 1 {
		t.Fatalf("requests issued while one was in flight = %d, want 1", calls)
	}

	close(st.release)

	// exactly one sample: the skipped cycles produced nothing
	select {
	case <-samples:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the in-flight request's sample")
	}
	select {
	case smp := <-samples:
		t.Fatalf("queued cycle ran after the slow request: %+v", smp)
	case <-time.After(20 * time.Millisecond):
	}
	if calls := st.calls.Load(); calls != 1 {
		t.Errorf("requests after release = %d, want 1 until the next interval", calls)
	}
}

// blockingTransport blocks every request until its context is done.
type blockingTransport struct {
	entered chan struct{}
	calls   atomic.Int32
}

func (b *blockingTransport) Request(ctx context.Context, endpoint string, headers map[string]string) transport.Result {
	b.calls.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return transport.Result{StatusCode: http.StatusServiceUnavailable, Err: ctx.Err()}
}

func TestSession_TeardownRaceNotCounted(t *testing.T) {
	bt := &blockingTransport{entered: make(chan struct{}, 1)}

	samples := make(chan Sample, 64)
	cfg := testConfig(nil, samples)
	s := NewSession(bt, cfg)
	s.Start()

	// wait until the request is in flight, then tear down
	select {
	case <-bt.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("request never started")
	}
	s.Stop()

	// the cancelled request's outcome must not surface as a sample
	select {
	case smp := <-samples:
		t.Errorf("sample delivered after Stop: %+v", smp)
	case <-time.After(100 * time.Millisecond):
	}
	if calls := bt.calls.Load(); calls != 1 {
		t.Errorf("requests issued = %d, want 1", calls)
	}
}

func TestSession_AuthRejectionSurfacedOnSamples(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(func() transport.Result {
		return transport.Result{StatusCode: http.StatusForbidden, NodeID: "node-1"}
	})

	samples := make(chan Sample, 64)
	s := NewSession(ft, testConfig(nil, samples))
	s.Start()
	defer s.Stop()

	drainSamples(t, samples, func(smp Sample) bool {
		return smp.AuthRejected && smp.StatusCode == http.StatusForbidden
	})
}

func TestSession_CallbackPanicDoesNotKillSession(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	statuses := make(chan Status, 16)
	cfg := testConfig(statuses, nil)
	var first atomic.Bool
	cfg.OnData = func(json.RawMessage) {
		if first.CompareAndSwap(false, true) {
			panic("widget bug")
		}
	}

	s := NewSession(ft, cfg)
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusConnected)

	// polling continues past the panicking callback
	before := ft.calls.Load()
	deadline := time.After(2 * time.Second)
	for ft.calls.Load() <= before+1 {
		select {
		case <-deadline:
			t.Fatal("polling stopped after callback panic")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSession_StartIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	ft.set(okResult)

	statuses := make(chan Status, 16)
	s := NewSession(ft, testConfig(statuses, nil))
	s.Start()
	s.Start()
	defer s.Stop()

	waitStatus(t, statuses, StatusConnected)

	// one poll per interval plus the immediate first cycle: a doubled loop
	// would roughly double this count
	start := ft.calls.Load()
	time.Sleep(105 * time.Millisecond)
	polls := ft.calls.Load() - start
	if polls > 15 {
		t.Errorf("observed %d polls in ~100ms at a 10ms interval; duplicate polling loop?", polls)
	}
}

// drainSamples reads samples until match returns true or the deadline hits.
func drainSamples(t *testing.T, samples chan Sample, match func(Sample) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case smp := <-samples:
			if match(smp) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching sample")
		}
	}
}
