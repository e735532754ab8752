package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is matched by every ValidationError.
var ErrInvalidConfig = errors.New("invalid optimization config")

// ValidationError reports a rejected option value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid optimization config: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidConfig) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Optimization is the engine's process-wide runtime configuration.
// Durations travel as milliseconds in JSON.
type Optimization struct {
	CacheEnabled       bool
	CacheTTL           time.Duration
	MaxCacheSize       int
	EnableMetrics      bool
	MonitoringInterval time.Duration
	// CoalesceInFlight shares one producer call between concurrent misses on a key.
	CoalesceInFlight bool
}

type optimizationJSON struct {
	CacheEnabled         bool  `json:"cache_enabled"`
	CacheTTLMs           int64 `json:"cache_ttl_ms"`
	MaxCacheSize         int   `json:"max_cache_size"`
	EnableMetrics        bool  `json:"enable_metrics"`
	MonitoringIntervalMs int64 `json:"monitoring_interval_ms"`
	CoalesceInFlight     bool  `json:"coalesce_in_flight"`
}

func (o Optimization) MarshalJSON() ([]byte, error) {
	return json.Marshal(optimizationJSON{
		CacheEnabled:         o.CacheEnabled,
		CacheTTLMs:           o.CacheTTL.Milliseconds(),
		MaxCacheSize:         o.MaxCacheSize,
		EnableMetrics:        o.EnableMetrics,
		MonitoringIntervalMs: o.MonitoringInterval.Milliseconds(),
		CoalesceInFlight:     o.CoalesceInFlight,
	})
}

func (o *Optimization) UnmarshalJSON(data []byte) error {
	var w optimizationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Optimization{
		CacheEnabled:       w.CacheEnabled,
		CacheTTL:           time.Duration(w.CacheTTLMs) * time.Millisecond,
		MaxCacheSize:       w.MaxCacheSize,
		EnableMetrics:      w.EnableMetrics,
		MonitoringInterval: time.Duration(w.MonitoringIntervalMs) * time.Millisecond,
		CoalesceInFlight:   w.CoalesceInFlight,
	}
	return nil
}

// DefaultOptimization returns the defaults used at process start.
func DefaultOptimization() Optimization {
	return Optimization{
		CacheEnabled:       true,
		CacheTTL:           5 * time.Minute,
		MaxCacheSize:       100,
		EnableMetrics:      true,
		MonitoringInterval: 30 * time.Second,
		CoalesceInFlight:   false,
	}
}

// Validate checks every option and returns the first violation.
func (o Optimization) Validate() error {
	if o.CacheTTL < 0 {
		return &ValidationError{Field: "cache_ttl_ms", Reason: "must not be negative"}
	}
	if o.MaxCacheSize < 1 {
		return &ValidationError{Field: "max_cache_size", Reason: "must be at least 1"}
	}
	if o.MonitoringInterval < 0 {
		return &ValidationError{Field: "monitoring_interval_ms", Reason: "must not be negative"}
	}
	return nil
}

// OptimizationPatch is a partial update; nil fields are left unchanged.
type OptimizationPatch struct {
	CacheEnabled       *bool
	CacheTTL           *time.Duration
	MaxCacheSize       *int
	EnableMetrics      *bool
	MonitoringInterval *time.Duration
	CoalesceInFlight   *bool
}

type patchJSON struct {
	CacheEnabled         *bool  `json:"cache_enabled,omitempty"`
	CacheTTLMs           *int64 `json:"cache_ttl_ms,omitempty"`
	MaxCacheSize         *int   `json:"max_cache_size,omitempty"`
	EnableMetrics        *bool  `json:"enable_metrics,omitempty"`
	MonitoringIntervalMs *int64 `json:"monitoring_interval_ms,omitempty"`
	CoalesceInFlight     *bool  `json:"coalesce_in_flight,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p OptimizationPatch) Empty() bool {
	return p == OptimizationPatch{}
}

// UnmarshalJSON decodes the same field names Optimization marshals to.
func (p *OptimizationPatch) UnmarshalJSON(data []byte) error {
	var w patchJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = OptimizationPatch{
		CacheEnabled:       w.CacheEnabled,
		MaxCacheSize:       w.MaxCacheSize,
		EnableMetrics:      w.EnableMetrics,
		CoalesceInFlight:   w.CoalesceInFlight,
		CacheTTL:           millis(w.CacheTTLMs),
		MonitoringInterval: millis(w.MonitoringIntervalMs),
	}
	return nil
}

func millis(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// Apply merges the patch into o. The receiver is returned unchanged on error.
func (o Optimization) Apply(p OptimizationPatch) (Optimization, error) {
	next := o
	if p.CacheEnabled != nil {
		next.CacheEnabled = *p.CacheEnabled
	}
	if p.CacheTTL != nil {
		next.CacheTTL = *p.CacheTTL
	}
	if p.MaxCacheSize != nil {
		next.MaxCacheSize = *p.MaxCacheSize
	}
	if p.EnableMetrics != nil {
		next.EnableMetrics = *p.EnableMetrics
	}
	if p.MonitoringInterval != nil {
		next.MonitoringInterval = *p.MonitoringInterval
	}
	if p.CoalesceInFlight != nil {
		next.CoalesceInFlight = *p.CoalesceInFlight
	}
	if err := next.Validate(); err != nil {
		return o, err
	}
	return next, nil
}
