package billing

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
	"github.com/ManuelReschke/Melodex/internal/pkg/metrics"
)

// DefaultCallTimeout bounds a single outbound provider request.
const DefaultCallTimeout = 10 * time.Second

// newBreaker trips after five consecutive failures and probes again after 30s.
func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Named("billing").Warn("provider circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetBreakerState(name, int(to))
		},
	})
}

// call runs fn through the breaker with a timeout derived from ctx. Provider
// failures come back as ExternalService errors.
func call[T any](ctx context.Context, cb *gobreaker.CircuitBreaker[any], op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	start := time.Now()
	out, err := cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	metrics.ObserveProviderCall(cb.Name(), op, time.Since(start), err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperr.External("payment provider temporarily unavailable", err)
		}
		return zero, apperr.External("", err)
	}
	return out.(T), nil
}
