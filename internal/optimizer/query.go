package optimizer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/anmar534/desktop-management-system/internal/metrics"
	"github.com/anmar534/desktop-management-system/internal/tracing"
)

// QueryOption adjusts a single OptimizeQuery call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	ttl          time.Duration
	forceRefresh bool
}

// WithTTL stores the result with d instead of the configured cache TTL.
func WithTTL(d time.Duration) QueryOption {
	return func(o *queryOptions) { o.ttl = d }
}

// WithForceRefresh skips the cache read; the result is still written back.
func WithForceRefresh() QueryOption {
	return func(o *queryOptions) { o.forceRefresh = true }
}

// OptimizeQuery returns the cached value for key or runs producer and caches
// its result. Every call records exactly one sample. A producer error is
// returned unchanged and nothing is cached.
func OptimizeQuery[T any](ctx context.Context, e *Engine, key string, producer func(context.Context) (T, error), opts ...QueryOption) (T, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracing.StartSpan(ctx, "optimizer.query",
		trace.WithAttributes(attribute.String("cache.key", key)))
	cfg := e.Config()
	start := e.now()

	if cfg.CacheEnabled && !o.forceRefresh {
		v, ok := e.cache.GetIf(key, func(v any) bool {
			if _, ok := v.(T); ok {
				return true
			}
			e.log.WarnContext(ctx, "Cached value has a different type, treating as miss", "key", key)
			return false
		})
		if ok {
			e.recorder.Record(metrics.OpCacheHit, key, e.now().Sub(start), false)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			tracing.EndSpan(span, nil)
			return v.(T), nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	result, err := produce(ctx, e, cfg.CoalesceInFlight, key, producer)
	elapsed := e.now().Sub(start)
	if err != nil {
		e.recorder.Record(metrics.OpQueryError, key, elapsed, true)
		tracing.EndSpan(span, err)
		var zero T
		return zero, err
	}

	if cfg.CacheEnabled {
		e.cache.Set(key, result, o.ttl)
		metrics.CacheEntries.Set(float64(e.cache.Len()))
	}
	e.recorder.Record(metrics.OpQueryExecution, key, elapsed, false)
	tracing.EndSpan(span, nil)
	return result, nil
}

// produce runs producer, sharing one call among concurrent misses on the same
// key when coalesce is set.
func produce[T any](ctx context.Context, e *Engine, coalesce bool, key string, producer func(context.Context) (T, error)) (T, error) {
	if !coalesce {
		return producer(ctx)
	}
	v, err, _ := e.flight.Do(key, func() (any, error) {
		return producer(ctx)
	})
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	// A concurrent caller shared the key with a different result type.
	return producer(ctx)
}
