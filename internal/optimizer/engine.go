// Package optimizer is the query cache and health engine. An Engine owns the
// cache store, the sample recorder and the error log, and is built once by
// the composition root.
package optimizer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/anmar534/desktop-management-system/internal/cache"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/health"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/metrics"
	"github.com/anmar534/desktop-management-system/internal/tracing"
)

// Engine is safe for concurrent use.
type Engine struct {
	// resetMu makes Reset atomic with respect to health and report reads.
	resetMu sync.RWMutex

	mu      sync.RWMutex
	cfg     config.Optimization
	rules   []Rule
	started time.Time

	cache     *cache.Store
	recorder  *metrics.Recorder
	errors    *errorlog.Log
	evaluator *health.Evaluator
	flight    singleflight.Group

	now    func() time.Time
	memory metrics.MemoryReader
	log    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithErrorLog sets the error log. By default an in-memory log is used.
func WithErrorLog(l *errorlog.Log) Option {
	return func(e *Engine) { e.errors = l }
}

// WithClock overrides the engine clock. It is shared with the cache and
// recorder.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMemoryReader overrides heap sampling.
func WithMemoryReader(fn metrics.MemoryReader) Option {
	return func(e *Engine) { e.memory = fn }
}

// WithThresholds overrides the health scoring constants.
func WithThresholds(t health.Thresholds) Option {
	return func(e *Engine) { e.evaluator = health.NewEvaluator(t) }
}

// New validates cfg and builds an engine.
func New(cfg config.Optimization, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		rules:     defaultRules(cfg),
		now:       time.Now,
		evaluator: health.NewEvaluator(health.DefaultThresholds()),
		log:       logger.WithComponent("optimizer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.errors == nil {
		e.errors = errorlog.New(nil, errorlog.WithClock(e.now))
	}

	recOpts := []metrics.RecorderOption{metrics.WithRecorderClock(e.now)}
	if e.memory != nil {
		recOpts = append(recOpts, metrics.WithMemoryReader(e.memory))
	}
	e.recorder = metrics.NewRecorder(recOpts...)
	e.recorder.SetEnabled(cfg.EnableMetrics)

	e.cache = cache.New(cfg.MaxCacheSize, cfg.CacheTTL,
		cache.WithClock(e.now),
		cache.WithRemovalHook(func(key string, reason cache.RemovalReason) {
			metrics.CacheRemovals.WithLabelValues(string(reason)).Inc()
		}),
	)
	e.started = e.now()
	return e, nil
}

// Config returns the current configuration.
func (e *Engine) Config() config.Optimization {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig merges patch into the current configuration. An invalid patch
// is rejected with a *config.ValidationError and nothing changes.
func (e *Engine) UpdateConfig(patch config.OptimizationPatch) error {
	e.mu.Lock()
	prev := e.cfg
	next, err := prev.Apply(patch)
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("Rejected configuration update", "error", err)
		return err
	}
	e.cfg = next
	e.setRuleLocked(RuleQueryCaching, next.CacheEnabled)
	e.mu.Unlock()

	if next.MaxCacheSize != prev.MaxCacheSize {
		if evicted := e.cache.Resize(next.MaxCacheSize); evicted > 0 {
			e.log.Info("Cache shrunk", "max_entries", next.MaxCacheSize, "evicted", evicted)
		}
		metrics.CacheEntries.Set(float64(e.cache.Len()))
	}
	if next.CacheTTL != prev.CacheTTL {
		e.cache.SetDefaultTTL(next.CacheTTL)
	}
	e.recorder.SetEnabled(next.EnableMetrics)

	e.log.Info("Configuration updated",
		"cache_enabled", next.CacheEnabled,
		"cache_ttl", next.CacheTTL,
		"max_cache_size", next.MaxCacheSize,
		"enable_metrics", next.EnableMetrics,
		"monitoring_interval", next.MonitoringInterval,
		"coalesce_in_flight", next.CoalesceInFlight)
	return nil
}

// MemoryReport summarizes one OptimizeMemory run.
type MemoryReport struct {
	ExpiredEntries int `json:"expired_entries"`
	PrunedSamples  int `json:"pruned_samples"`
}

// OptimizeMemory drops expired cache entries and samples older than the
// retention window.
func (e *Engine) OptimizeMemory() MemoryReport {
	start := e.now()
	r := MemoryReport{
		ExpiredEntries: e.cache.EvictExpired(),
		PrunedSamples:  e.recorder.Prune(metrics.DefaultRetention),
	}
	metrics.CacheEntries.Set(float64(e.cache.Len()))
	e.recorder.Record(metrics.OpMemoryOptimization, "engine", e.now().Sub(start), false)
	e.log.Debug("Memory optimized", "expired_entries", r.ExpiredEntries, "pruned_samples", r.PrunedSamples)
	return r
}

// CheckSystemHealth evaluates health from the current samples and error log.
// It never fails: unreadable storage degrades to the in-memory error view.
func (e *Engine) CheckSystemHealth(ctx context.Context) health.SystemHealth {
	ctx, span := tracing.StartSpan(ctx, "optimizer.check_health")
	defer span.End()

	e.resetMu.RLock()
	defer e.resetMu.RUnlock()
	return e.checkHealthLocked(ctx)
}

func (e *Engine) checkHealthLocked(ctx context.Context) health.SystemHealth {
	records, degraded := e.errors.Records(ctx)

	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()

	now := e.now()
	h := e.evaluator.Evaluate(health.Input{
		Now:                now,
		Samples:            e.recorder.All(),
		CurrentMemoryBytes: e.recorder.CurrentMemory(),
		PeakMemoryBytes:    e.recorder.PeakMemory(),
		Errors:             records,
		Uptime:             now.Sub(started),
		Degraded:           degraded,
	})
	publishHealth(h)
	return h
}

func publishHealth(h health.SystemHealth) {
	metrics.HealthChecks.Inc()
	metrics.HealthScore.WithLabelValues("performance").Set(float64(h.Performance.Score))
	metrics.HealthScore.WithLabelValues("stability").Set(float64(h.Stability.Score))
	metrics.CacheHitRatio.Set(h.Performance.CacheHitRatePct / 100)
	for _, s := range health.Statuses {
		v := 0.0
		if s == h.Overall {
			v = 1
		}
		metrics.HealthStatus.WithLabelValues(string(s)).Set(v)
	}
}

// Reset clears the cache, samples and error log and restarts the uptime
// clock. Concurrent health checks observe either the old or the new state.
func (e *Engine) Reset(ctx context.Context) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	e.cache.Clear()
	e.recorder.Clear()
	if err := e.errors.Clear(ctx); err != nil {
		e.log.WarnContext(ctx, "Failed to clear persisted error records", "error", err)
	}

	e.mu.Lock()
	e.started = e.now()
	e.mu.Unlock()

	metrics.CacheEntries.Set(0)
	e.log.InfoContext(ctx, "Engine reset")
}

// Errors returns the engine's error log.
func (e *Engine) Errors() *errorlog.Log { return e.errors }

// SessionID returns the id attached to every sample.
func (e *Engine) SessionID() string { return e.recorder.SessionID() }

// Samples returns every retained sample.
func (e *Engine) Samples() []metrics.Sample { return e.recorder.All() }

// InvalidateCache removes entries whose key starts with prefix. An empty
// prefix clears the whole cache. It returns the number of entries removed.
func (e *Engine) InvalidateCache(prefix string) int {
	if prefix == "" {
		n := e.cache.Len()
		e.cache.Clear()
		metrics.CacheEntries.Set(0)
		return n
	}
	n := 0
	for _, entry := range e.cache.Snapshot() {
		if strings.HasPrefix(entry.Key, prefix) {
			e.cache.Delete(entry.Key)
			n++
		}
	}
	metrics.CacheEntries.Set(float64(e.cache.Len()))
	return n
}
