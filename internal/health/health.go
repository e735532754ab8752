// Package health derives performance and stability scores, an overall status
// and recommendations from recorded samples and the error log.
package health

import (
	"time"

	"github.com/anmar534/desktop-management-system/internal/errorlog"
)

// Status is the overall health classification.
type Status string

const (
	StatusExcellent Status = "excellent"
	StatusGood      Status = "good"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
)

// Statuses lists every classification from best to worst.
var Statuses = []Status{StatusExcellent, StatusGood, StatusWarning, StatusCritical}

// SystemHealth is one health evaluation.
type SystemHealth struct {
	Overall         Status            `json:"overall"`
	Performance     PerformanceHealth `json:"performance"`
	Stability       StabilityHealth   `json:"stability"`
	Memory          MemoryHealth      `json:"memory"`
	Errors          ErrorSummary      `json:"errors"`
	LastCheck       time.Time         `json:"last_check"`
	Recommendations []string          `json:"recommendations"`
	// Degraded is set when the error log could not be read from storage and
	// the in-memory view was used instead.
	Degraded bool `json:"degraded,omitempty"`
}

type PerformanceHealth struct {
	Score             int     `json:"score"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SlowQueries       int     `json:"slow_queries"`
	OptimizedQueries  int     `json:"optimized_queries"`
	CacheHitRatePct   float64 `json:"cache_hit_rate_pct"`
}

type StabilityHealth struct {
	Score          int     `json:"score"`
	UptimeFraction float64 `json:"uptime_fraction"`
	UptimePct      float64 `json:"uptime_pct"`
	ErrorRatePct   float64 `json:"error_rate_pct"`
	CrashCount     int     `json:"crash_count"`
	RecoveryTimeMs float64 `json:"recovery_time_ms"`
}

type MemoryHealth struct {
	CurrentMB     float64 `json:"current_mb"`
	PeakMB        float64 `json:"peak_mb"`
	AverageMB     float64 `json:"average_mb"`
	Leaks         int     `json:"leaks"`
	Optimizations int     `json:"optimizations"`
}

type ErrorSummary struct {
	Total    int               `json:"total"`
	ByType   map[string]int    `json:"by_type"`
	Recent   []errorlog.Record `json:"recent"`
	Resolved int               `json:"resolved"`
	Pending  int               `json:"pending"`
}

// Thresholds holds every scoring constant. Response times are in
// milliseconds, memory in megabytes and rates as 0-1 fractions.
type Thresholds struct {
	// Window bounds the samples scored for performance.
	Window time.Duration

	ResponseWarnMs, ResponseHighMs, ResponseCriticalMs                float64
	ResponseWarnPenalty, ResponseHighPenalty, ResponseCriticalPenalty float64

	MemoryHighMB, MemoryCriticalMB           float64
	MemoryHighPenalty, MemoryCriticalPenalty float64

	ErrorRateWeight float64
	HitRateBaseline float64
	HitRateWeight   float64

	UnresolvedWarnRatio, UnresolvedCriticalRatio     float64
	UnresolvedWarnPenalty, UnresolvedCriticalPenalty float64
	CriticalErrorPenalty                             float64
	UptimeFullAfter                                  time.Duration

	ExcellentScore, GoodScore, WarningScore float64
	// Pending error limits per class: excellent requires at most
	// ExcellentMaxPending, good and warning require strictly fewer than theirs.
	ExcellentMaxPending, GoodPendingBelow, WarningPendingBelow int

	RecommendResponseMs    float64
	RecommendHitRate       float64
	RecommendErrorRate     float64
	RecommendMemoryMB      float64
	RecommendPendingErrors int

	// SlowQueryMs marks a query sample as slow in the performance summary.
	SlowQueryMs float64
	// LeakTypes are error types counted as memory leaks.
	LeakTypes []string
	// RecentErrors caps ErrorSummary.Recent.
	RecentErrors int
}

// DefaultThresholds returns the standard scoring constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window: 5 * time.Minute,

		ResponseWarnMs:          1000,
		ResponseHighMs:          2000,
		ResponseCriticalMs:      3000,
		ResponseWarnPenalty:     10,
		ResponseHighPenalty:     20,
		ResponseCriticalPenalty: 30,

		MemoryHighMB:          100,
		MemoryCriticalMB:      150,
		MemoryHighPenalty:     10,
		MemoryCriticalPenalty: 20,

		ErrorRateWeight: 1000,
		HitRateBaseline: 0.5,
		HitRateWeight:   20,

		UnresolvedWarnRatio:       0.05,
		UnresolvedCriticalRatio:   0.10,
		UnresolvedWarnPenalty:     15,
		UnresolvedCriticalPenalty: 30,
		CriticalErrorPenalty:      25,
		UptimeFullAfter:           24 * time.Hour,

		ExcellentScore:      90,
		GoodScore:           75,
		WarningScore:        50,
		ExcellentMaxPending: 0,
		GoodPendingBelow:    3,
		WarningPendingBelow: 10,

		RecommendResponseMs:    1000,
		RecommendHitRate:       0.7,
		RecommendErrorRate:     0.05,
		RecommendMemoryMB:      100,
		RecommendPendingErrors: 5,

		SlowQueryMs:  1000,
		LeakTypes:    []string{"memory_leak"},
		RecentErrors: 10,
	}
}
