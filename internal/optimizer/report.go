package optimizer

import (
	"context"

	"github.com/anmar534/desktop-management-system/internal/cache"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/health"
	"github.com/anmar534/desktop-management-system/internal/metrics"
	"github.com/anmar534/desktop-management-system/internal/tracing"
)

// CacheReport summarizes the query cache.
type CacheReport struct {
	Size    int         `json:"size"`
	MaxSize int         `json:"max_size"`
	HitRate float64     `json:"hit_rate"`
	Stats   cache.Stats `json:"stats"`
}

// Report is the full dashboard payload.
type Report struct {
	Health  health.SystemHealth `json:"health"`
	Metrics []metrics.Sample    `json:"metrics"`
	Config  config.Optimization `json:"config"`
	Rules   []Rule              `json:"rules"`
	Cache   CacheReport         `json:"cache"`
}

// CacheStats reports the cache size and the hit rate over retained samples.
func (e *Engine) CacheStats() CacheReport {
	st := e.cache.Stats()
	return CacheReport{
		Size:    st.Items,
		MaxSize: st.MaxEntries,
		HitRate: metrics.HitRate(e.recorder.All()),
		Stats:   st,
	}
}

// GetPerformanceReport returns health, every retained sample, the current
// configuration, the rules and cache statistics as one consistent snapshot.
func (e *Engine) GetPerformanceReport(ctx context.Context) Report {
	ctx, span := tracing.StartSpan(ctx, "optimizer.report")
	defer span.End()

	e.resetMu.RLock()
	defer e.resetMu.RUnlock()

	return Report{
		Health:  e.checkHealthLocked(ctx),
		Metrics: e.recorder.All(),
		Config:  e.Config(),
		Rules:   e.Rules(),
		Cache:   e.CacheStats(),
	}
}
