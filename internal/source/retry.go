package source

import (
	"context"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

// newBreaker builds a per-adapter circuit breaker: after 5 consecutive
// failures it opens for 30s, matching the retry envelope's own 3-attempt,
// ~16s worst-case budget so a persistently unreachable warehouse fails
// fast on subsequent evaluations instead of repeating the full backoff
// every time.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// withRetry runs op up to 3 times with exponential backoff between
// attempts (multiplier 2, starting at 4s, capped at 10s: about 4s then 8s,
// jittered), matching every upstream adapter's
// @retry(stop_after_attempt(3), wait_exponential(multiplier=2, min=4, max=10)),
// inside a circuit breaker so a warehouse in sustained failure stops
// absorbing the full retry budget on every single evaluation.
func withRetry(ctx context.Context, breaker *gobreaker.CircuitBreaker, platform string, op func() ([]domain.EntityEvent, error)) ([]domain.EntityEvent, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 4 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 20 * time.Second

	var result []domain.EntityEvent
	attempt := 0
	wrapped := func() error {
		attempt++
		out, err := breaker.Execute(func() (any, error) {
			return op()
		})
		if err != nil {
			slog.WarnContext(ctx, "source: query attempt failed", "platform", platform, "attempt", attempt, "error", err)
			return err
		}
		result = out.([]domain.EntityEvent)
		return nil
	}

	if err := backoff.Retry(wrapped, backoff.WithMaxRetries(bo, 2)); err != nil {
		return nil, evalerr.Wrap(evalerr.KindWarehouseTransient, platform+" query failed after retries", err)
	}
	return result, nil
}
