// Package resilience provides generic retry and circuit-breaking helpers
// shared by the dependent-service client pool.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Retry calls fn up to attempts times with full-jitter exponential backoff
// capped at 60s, returning the first successful result.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	meter := otel.GetMeterProvider().Meter("artemis")
	attemptCounter, _ := meter.Int64Counter("artemis_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("artemis_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("artemis_resilience_retry_failure_total")

	var lastErr error
	var zero T
	for i := 0; i < attempts; i++ {
		attemptCounter.Add(ctx, 1)
		result, err := fn()
		if err == nil {
			successCounter.Add(ctx, 1)
			return result, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		backoff := time.Duration(math.Min(float64(delay)*math.Pow(2, float64(i)), float64(60*time.Second)))
		jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		}
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}
