// Package depclient implements the process-wide pooled HTTP client used to
// call dependent services, injecting W3C trace-context headers on every
// outbound call.
package depclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/swarmguard/artemis/internal/resilience"
)

// headerCarrier adapts http.Header to otel's TextMapCarrier so the active
// span context can be injected as a traceparent header. This is the same
// shape used across this codebase's HTTP call sites rather than the
// propagation.HeaderCarrier helper, kept for consistency with those sites.
type headerCarrier http.Header

func (h headerCarrier) Get(key string) string { return http.Header(h).Get(key) }
func (h headerCarrier) Set(key, value string) { http.Header(h).Set(key, value) }
func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

type clientKey struct {
	baseURL string
	timeout time.Duration
}

var (
	poolMu  sync.Mutex
	clients = map[clientKey]*http.Client{}

	breakerMu sync.Mutex
	breakers  = map[string]*resilience.CircuitBreaker{}
)

// ErrCircuitOpen is returned by Get/Post when the breaker guarding this
// dependent service's (host,port) pair is open.
var ErrCircuitOpen = errors.New("depclient: circuit open")

// breakerFor returns the shared breaker for a base URL, creating it at most
// once. Keyed by base URL alone (not by timeout) so every Client talking to
// the same service shares one failure-rate view, per SPEC_FULL 4.11.
func breakerFor(baseURL string) *resilience.CircuitBreaker {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	if b, ok := breakers[baseURL]; ok {
		return b
	}
	b := resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 3)
	breakers[baseURL] = b
	return b
}

// resetBreakersForTest clears the shared breaker pool; test-only helper.
func resetBreakersForTest() {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	breakers = map[string]*resilience.CircuitBreaker{}
}

// get returns the process-wide shared *http.Client for (baseURL, timeout),
// creating it at most once per key (create-once discipline via a package
// mutex, matching the single-flight requirement).
func get(baseURL string, timeout time.Duration) *http.Client {
	key := clientKey{baseURL: baseURL, timeout: timeout}
	poolMu.Lock()
	defer poolMu.Unlock()
	if c, ok := clients[key]; ok {
		return c
	}
	c := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	clients[key] = c
	return c
}

// Client is a generic OTel-aware HTTP client for a dependent service,
// sharing a pooled *http.Client keyed by (host, port, timeout). A non-nil
// breaker short-circuits calls once the service's failure rate trips it.
type Client struct {
	BaseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// New resolves (or creates) the pooled client for host:port with the given
// timeout, guarded by a circuit breaker shared across every Client for that
// base URL. Use this for general dependent-service calls (data providers,
// phoenixA-style services).
func New(host string, port int, timeoutSeconds float64) *Client {
	c := newClient(host, port, timeoutSeconds)
	c.breaker = breakerFor(c.BaseURL)
	return c
}

// NewRaw builds a pooled client without a circuit breaker. The callback
// client uses this: spec.md's finalize-retry count/backoff is a fixed
// contract that a breaker must never short-circuit (see SPEC_FULL 4.11).
func NewRaw(host string, port int, timeoutSeconds float64) *Client {
	return newClient(host, port, timeoutSeconds)
}

func newClient(host string, port int, timeoutSeconds float64) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5.0
	}
	base := fmt.Sprintf("http://%s:%d", host, port)
	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	return &Client{BaseURL: base, http: get(base, timeout)}
}

func (c *Client) buildURL(path string, query url.Values) string {
	if path == "" {
		path = "/"
	} else if path[0] != '/' {
		path = "/" + path
	}
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) headers(ctx context.Context, extra http.Header) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	propagation.TraceContext{}.Inject(ctx, headerCarrier(h))
	for k, vs := range extra {
		for _, v := range vs {
			h.Set(k, v)
		}
	}
	return h
}

// Get issues a GET with an injected traceparent header (when a valid trace
// is active) merged under any caller-supplied headers.
func (c *Client) Get(ctx context.Context, path string, query url.Values, extra http.Header) (*http.Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(path, query), nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers(ctx, extra)
	resp, err := c.http.Do(req)
	c.recordBreaker(resp, err)
	return resp, err
}

// Post issues a POST of the JSON-encoded payload.
func (c *Client) Post(ctx context.Context, path string, payload any, extra http.Header) (*http.Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path, nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = c.headers(ctx, extra)
	resp, err := c.http.Do(req)
	c.recordBreaker(resp, err)
	return resp, err
}

func (c *Client) recordBreaker(resp *http.Response, err error) {
	if c.breaker == nil {
		return
	}
	c.breaker.RecordResult(err == nil && IsSuccess(resp.StatusCode))
}

// ReadAndClose drains and closes a response body, returning its bytes. A
// small helper used by callers that need the body for logging/parsing.
func ReadAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// IsSuccess reports whether an HTTP status code is in the 2xx range.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// PoolSize reports how many distinct (baseURL,timeout) pooled clients exist,
// for the Housekeeping Scheduler's periodic pool-size log.
func PoolSize() int {
	poolMu.Lock()
	defer poolMu.Unlock()
	return len(clients)
}

// resetPoolForTest clears the shared client and breaker pools; test-only helper.
func resetPoolForTest() {
	poolMu.Lock()
	clients = map[clientKey]*http.Client{}
	poolMu.Unlock()
	resetBreakersForTest()
}
