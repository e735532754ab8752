package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/anmar534/desktop-management-system/internal/circuitbreaker"
	"github.com/anmar534/desktop-management-system/internal/metrics"
)

// BreakerKV guards another KV with a circuit breaker. While the circuit is open,
// every call fails fast with ErrUnavailable.
type BreakerKV struct {
	inner   KV
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerKV wraps inner. ErrNotFound never counts as a failure.
func NewBreakerKV(inner KV, cfg circuitbreaker.Config) *BreakerKV {
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, ErrNotFound) }
	return &BreakerKV{inner: inner, breaker: circuitbreaker.New(cfg)}
}

// State returns the breaker state.
func (b *BreakerKV) State() circuitbreaker.State { return b.breaker.GetState() }

func (b *BreakerKV) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.do(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = b.inner.Get(ctx, key)
		return err
	})
	return out, err
}

func (b *BreakerKV) Put(ctx context.Context, key string, value []byte) error {
	return b.do(ctx, "put", func(ctx context.Context) error {
		return b.inner.Put(ctx, key, value)
	})
}

func (b *BreakerKV) Delete(ctx context.Context, key string) error {
	return b.do(ctx, "delete", func(ctx context.Context) error {
		return b.inner.Delete(ctx, key)
	})
}

func (b *BreakerKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	var out map[string][]byte
	err := b.do(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = b.inner.List(ctx, prefix)
		return err
	})
	return out, err
}

func (b *BreakerKV) Close() error { return b.inner.Close() }

func (b *BreakerKV) do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := b.breaker.Execute(ctx, fn)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.StorageOperationErrors.WithLabelValues(op).Inc()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, b.breaker.Name(), err)
	default:
		metrics.StorageOperationErrors.WithLabelValues(op).Inc()
		return err
	}
}
