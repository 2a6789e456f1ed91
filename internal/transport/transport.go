package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jpalmerr/nodewatch/token"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when many
// subscriptions poll the same node
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
)

// ErrNoActiveNode is the cause recorded on the synthetic result returned
// when no node is configured as active.
var ErrNoActiveNode = errors.New("no active node configured")

// Node is the transport-internal view of a node: just enough to address and
// authenticate a request. Decoupled from the registry's node type so this
// package does not depend on registry internals.
type Node struct {
	// ID identifies the node a result belongs to.
	ID string

	// Address is the base URL of the node's API.
	Address string

	// Secret is the base64-encoded shared credential tokens derive from.
	Secret string
}

// NodeSource supplies the currently active node. Implemented by the registry
// (via an adapter) in production and by fakes in tests.
type NodeSource interface {
	// ActiveNode returns the active node, or false if none is configured.
	ActiveNode() (Node, bool)
}

// Result is the outcome of one authenticated request.
//
// Every failure mode funnels into this one shape: transport errors and
// missing configuration become synthetic HTTP status codes, so downstream
// retry logic has a single failure branch instead of an error path and a
// status path. Err preserves the underlying cause for logging only; it never
// drives control flow.
type Result struct {
	// StatusCode is the HTTP status of the response. 400 is synthesized when
	// no node is active or the request cannot be built; 503 is synthesized
	// for transport-level failures (DNS, refused connection, cancellation).
	StatusCode int

	// Body is the response body, capped at 1MB. Empty for synthetic results.
	Body []byte

	// Latency is the time spent on the request.
	Latency time.Duration

	// NodeID identifies the node the request targeted. Empty when no node
	// was active.
	NodeID string

	// Err records the underlying cause for synthetic results. Informational.
	Err error
}

// OK reports whether the result carries a successful (2xx) response.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// AuthRejected reports whether the node explicitly rejected the bearer
// token. This is the one non-2xx outcome callers are expected to
// distinguish: it means the credential is wrong, not that the node is
// unreachable, so retrying with the same secret will never succeed.
func (r Result) AuthRejected() bool {
	return r.StatusCode == http.StatusForbidden
}

// Client issues authenticated requests against the active node.
//
// For every request it resolves the active node, derives a fresh bearer
// token from the node's secret (tokens are window-scoped and must not be
// cached across requests), and attaches it as the Authorization header.
// Client never retries; retry policy belongs to the polling session.
//
// Timeouts are applied per-request via the caller's context, not as a global
// client timeout, because different subscriptions legitimately use very
// different deadlines.
type Client struct {
	httpClient *http.Client
	nodes      NodeSource
}

// NewClient creates a [Client] reading the active node from nodes.
func NewClient(nodes NodeSource) *Client {
	return &Client{
		nodes: nodes,
		httpClient: &http.Client{
			// no default timeout - per-request deadlines come from the context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false, // explicitly enable connection reuse
			},
		},
	}
}

// Request performs one authenticated GET against the given endpoint path
// (e.g. "/v1/monitor/cpu"), resolved against the active node's base address.
// Caller-supplied headers are merged in; the Authorization header is always
// the freshly derived token.
//
// Request always returns a [Result] and never an error: configuration and
// transport failures are encoded as synthetic status codes (see [Result]).
func (c *Client) Request(ctx context.Context, endpoint string, headers map[string]string) Result {
	start := time.Now()

	node, ok := c.nodes.ActiveNode()
	if !ok {
		return Result{
			StatusCode: http.StatusBadRequest,
			Latency:    time.Since(start),
			Err:        ErrNoActiveNode,
		}
	}

	target, err := url.JoinPath(node.Address, endpoint)
	if err != nil {
		return Result{
			StatusCode: http.StatusBadRequest,
			Latency:    time.Since(start),
			NodeID:     node.ID,
			Err:        err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{
			StatusCode: http.StatusBadRequest,
			Latency:    time.Since(start),
			NodeID:     node.ID,
			Err:        err,
		}
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	// derived per request: the token is only valid for the current window
	req.Header.Set("Authorization", "Bearer "+token.Generate(node.Secret, time.Now()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// DNS failure, refused connection, cancelled context: all transport
		// failures collapse into one synthetic service-unavailable result
		return Result{
			StatusCode: http.StatusServiceUnavailable,
			Latency:    time.Since(start),
			NodeID:     node.ID,
			Err:        err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Result{
			StatusCode: http.StatusServiceUnavailable,
			Latency:    time.Since(start),
			NodeID:     node.ID,
			Err:        err,
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Latency:    time.Since(start),
		NodeID:     node.ID,
	}
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close the client remains usable; new
// connections are established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
