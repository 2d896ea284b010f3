package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/circuitbreaker"
)

// GuardedStore routes every call through a circuit breaker. Invalid keys are
// rejected before reaching the breaker, and a missing document counts as a
// successful call.
type GuardedStore struct {
	inner   Store
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

// Guarded wraps inner. A positive timeout bounds each call.
func Guarded(inner Store, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker, timeout: timeout}
}

func (g *GuardedStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return ctx, func() {}
}

func (g *GuardedStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var data []byte
	var notFound error
	err := g.breaker.Execute(ctx, func() error {
		var err error
		data, err = g.inner.Read(ctx, key)
		if errors.Is(err, ErrNotFound) {
			notFound = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return data, nil
}

func (g *GuardedStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.breaker.Execute(ctx, func() error {
		return g.inner.Write(ctx, key, data)
	})
}

// Ping reports the breaker as unhealthy while open, otherwise pings the backend.
func (g *GuardedStore) Ping(ctx context.Context) error {
	if g.breaker.State() == circuitbreaker.StateOpen {
		return circuitbreaker.ErrCircuitBreakerOpen
	}
	if p, ok := g.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Breaker exposes the wrapped breaker for health reporting.
func (g *GuardedStore) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}
