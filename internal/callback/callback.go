// Package callback implements the progress/finalize callback protocol to
// the dispatcher, specialized over the dependent-service client pool.
package callback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/swarmguard/artemis/internal/depclient"
)

const (
	defaultTimeoutSeconds = 2.0
	maxFinalizeAttempts   = 3
)

// Client is the interface the rest of the system depends on. A no-op
// implementation is installed when no dispatcher endpoint can be resolved.
type Client interface {
	Progress(ctx context.Context, runID string, current, total int, message string) bool
	FinalizeSuccess(ctx context.Context, runID string, code int, body string) bool
	FinalizeFailed(ctx context.Context, runID string, errMessage string) bool
	Finalized(runID string) bool
}

// NoopClient swallows all calls; used when no dispatcher endpoint is
// configured so a run's progress/finalize paths stay no-ops rather than
// nil-pointer hazards.
type NoopClient struct{}

func (NoopClient) Progress(context.Context, string, int, int, string) bool   { return false }
func (NoopClient) FinalizeSuccess(context.Context, string, int, string) bool { return false }
func (NoopClient) FinalizeFailed(context.Context, string, string) bool       { return false }
func (NoopClient) Finalized(string) bool                                    { return false }

// HTTPClient posts progress and finalize callbacks to a single dispatcher
// base URL, tracking per-run_id finalize idempotence.
type HTTPClient struct {
	depclient *depclient.Client
	logger    *slog.Logger

	mu          sync.Mutex
	finalizedBy map[string]bool
}

// NewHTTPClient builds a callback client against host:port using the
// pooled dependent-service client with the fixed 2s callback timeout.
func NewHTTPClient(host string, port int, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		depclient:   depclient.NewRaw(host, port, defaultTimeoutSeconds),
		logger:      logger,
		finalizedBy: map[string]bool{},
	}
}

// Progress sends a single best-effort progress update. It returns false
// immediately, without network I/O, once the run has already finalized.
func (c *HTTPClient) Progress(ctx context.Context, runID string, current, total int, message string) bool {
	if c.Finalized(runID) {
		return false
	}
	path := "/api/v1/runs/" + runID + "/progress"
	payload := map[string]any{"current": current, "total": total, "message": message}
	ok := c.postOnce(ctx, path, payload, runID)
	if ok {
		c.logger.Info("callback_progress_sent", "run_id", runID, "current", current, "total", total)
	}
	return ok
}

// FinalizeSuccess reports a successful terminal outcome, attempted up to 3
// times with exponential backoff (0.5s, 1.0s, 2.0s) after each failed attempt.
func (c *HTTPClient) FinalizeSuccess(ctx context.Context, runID string, code int, body string) bool {
	if body == "" {
		body = "success"
	}
	payload := map[string]any{"success": true, "code": code, "message": body}
	return c.finalizeWithRetry(ctx, runID, payload)
}

// FinalizeFailed reports a failed terminal outcome, same retry schedule.
func (c *HTTPClient) FinalizeFailed(ctx context.Context, runID string, errMessage string) bool {
	if errMessage == "" {
		errMessage = "failed"
	}
	payload := map[string]any{"success": false, "message": errMessage}
	return c.finalizeWithRetry(ctx, runID, payload)
}

// Finalized reports whether a successful finalize has already been sent
// for runID.
func (c *HTTPClient) Finalized(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizedBy[runID]
}

func (c *HTTPClient) finalizeWithRetry(ctx context.Context, runID string, payload map[string]any) bool {
	if c.Finalized(runID) {
		return false
	}
	path := "/api/v1/runs/" + runID + "/callback"

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0 // bounded by the attempt count below, not elapsed wall time
	policy.RandomizationFactor = 0

	attempt := 0
	for attempt < maxFinalizeAttempts {
		attempt++
		if c.postOnce(ctx, path, payload, runID) {
			c.mu.Lock()
			c.finalizedBy[runID] = true
			c.mu.Unlock()
			c.logger.Info("callback_finalize_sent", "run_id", runID, "success", payload["success"])
			return true
		}
		c.logger.Warn("callback_finalize_retry", "run_id", runID, "attempt", attempt)
		wait := policy.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			c.logger.Error("callback_finalize_give_up", "run_id", runID, "reason", "context canceled")
			return false
		}
	}
	c.logger.Error("callback_finalize_give_up", "run_id", runID)
	return false
}

func (c *HTTPClient) postOnce(ctx context.Context, path string, payload map[string]any, runID string) bool {
	resp, err := c.depclient.Post(ctx, path, payload, nil)
	if err != nil {
		c.logger.Warn("callback_http_exception", "run_id", runID, "path", path, "error", err)
		return false
	}
	defer resp.Body.Close()
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		c.logger.Warn("callback_http_failure", "run_id", runID, "path", path, "status", resp.StatusCode)
	}
	return ok
}

var _ Client = (*HTTPClient)(nil)
var _ Client = NoopClient{}
