package health

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/metrics"
)

// Input is everything one evaluation reads. Samples may cover more than the
// scoring window; the evaluator filters them.
type Input struct {
	Now                time.Time
	Samples            []metrics.Sample
	CurrentMemoryBytes uint64
	PeakMemoryBytes    uint64
	Errors             []errorlog.Record
	Uptime             time.Duration
	// Degraded marks an error view that fell back to memory.
	Degraded bool
}

// PerformanceInputs are the windowed figures the performance score uses.
type PerformanceInputs struct {
	AvgResponseMs float64
	MemoryMB      float64
	ErrorRate     float64
	HitRate       float64
}

// StabilityInputs are the error-log figures the stability score uses.
type StabilityInputs struct {
	Total          int
	Unresolved     int
	CriticalErrors int
}

// Evaluator scores health with a fixed set of thresholds.
type Evaluator struct {
	t Thresholds
}

// NewEvaluator creates an evaluator.
func NewEvaluator(t Thresholds) *Evaluator {
	return &Evaluator{t: t}
}

// Thresholds returns the evaluator's constants.
func (e *Evaluator) Thresholds() Thresholds { return e.t }

// PerformanceScore starts at 100, applies the response, memory, error and hit
// rate adjustments, and clamps to [0, 100].
func (e *Evaluator) PerformanceScore(in PerformanceInputs) float64 {
	t := e.t
	score := 100.0

	switch {
	case in.AvgResponseMs > t.ResponseCriticalMs:
		score -= t.ResponseCriticalPenalty
	case in.AvgResponseMs > t.ResponseHighMs:
		score -= t.ResponseHighPenalty
	case in.AvgResponseMs > t.ResponseWarnMs:
		score -= t.ResponseWarnPenalty
	}

	switch {
	case in.MemoryMB > t.MemoryCriticalMB:
		score -= t.MemoryCriticalPenalty
	case in.MemoryMB > t.MemoryHighMB:
		score -= t.MemoryHighPenalty
	}

	score -= in.ErrorRate * t.ErrorRateWeight
	score += (in.HitRate - t.HitRateBaseline) * t.HitRateWeight

	return clamp(score)
}

// StabilityScore starts at 100 and deducts for the unresolved ratio and for
// any critical error, resolved or not.
func (e *Evaluator) StabilityScore(in StabilityInputs) float64 {
	t := e.t
	score := 100.0

	if in.Total > 0 {
		ratio := float64(in.Unresolved) / float64(in.Total)
		switch {
		case ratio > t.UnresolvedCriticalRatio:
			score -= t.UnresolvedCriticalPenalty
		case ratio > t.UnresolvedWarnRatio:
			score -= t.UnresolvedWarnPenalty
		}
	}
	if in.CriticalErrors > 0 {
		score -= t.CriticalErrorPenalty
	}

	return clamp(score)
}

// Classify maps the two scores and the pending error count onto a status.
func (e *Evaluator) Classify(performance, stability float64, pending int) Status {
	t := e.t
	avg := (performance + stability) / 2
	switch {
	case avg >= t.ExcellentScore && pending <= t.ExcellentMaxPending:
		return StatusExcellent
	case avg >= t.GoodScore && pending < t.GoodPendingBelow:
		return StatusGood
	case avg >= t.WarningScore && pending < t.WarningPendingBelow:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// Recommend runs each check in order; every check adds at most one entry.
func (e *Evaluator) Recommend(perf PerformanceInputs, pending int) []string {
	t := e.t
	out := []string{}
	if perf.AvgResponseMs > t.RecommendResponseMs {
		out = append(out, fmt.Sprintf(
			"Average response time is above %.0fms: optimize slow queries or raise the cache TTL", t.RecommendResponseMs))
	}
	if perf.HitRate < t.RecommendHitRate {
		out = append(out, fmt.Sprintf(
			"Cache hit rate is below %.0f%%: review cache keys and TTLs", t.RecommendHitRate*100))
	}
	if perf.ErrorRate > t.RecommendErrorRate {
		out = append(out, fmt.Sprintf(
			"Query error rate is above %.0f%%: investigate failing queries", t.RecommendErrorRate*100))
	}
	if perf.MemoryMB > t.RecommendMemoryMB {
		out = append(out, fmt.Sprintf(
			"Memory usage is above %.0fMB: run memory optimization or lower the cache size", t.RecommendMemoryMB))
	}
	if pending > t.RecommendPendingErrors {
		out = append(out, fmt.Sprintf(
			"More than %d errors are unresolved: review and resolve pending errors", t.RecommendPendingErrors))
	}
	return out
}

// Evaluate produces a full health report. Scores are rounded to integers and
// the classification uses the rounded values.
func (e *Evaluator) Evaluate(in Input) SystemHealth {
	t := e.t
	cutoff := in.Now.Add(-t.Window)
	window := make([]metrics.Sample, 0, len(in.Samples))
	optimizations := 0
	for _, s := range in.Samples {
		if s.Operation == metrics.OpMemoryOptimization {
			optimizations++
		}
		if !s.Timestamp.Before(cutoff) {
			window = append(window, s)
		}
	}

	perfIn := PerformanceInputs{
		AvgResponseMs: metrics.AverageDurationMs(window),
		MemoryMB:      metrics.BytesToMB(in.CurrentMemoryBytes),
		ErrorRate:     metrics.ErrorRate(window),
		HitRate:       metrics.HitRate(window),
	}

	errs := e.summarizeErrors(in.Errors)
	crashes := 0
	var recoverySum time.Duration
	recovered := 0
	for _, r := range in.Errors {
		if r.Severity != errorlog.SeverityCritical {
			continue
		}
		crashes++
	}
	stabIn := StabilityInputs{Total: errs.Total, Unresolved: errs.Pending, CriticalErrors: crashes}
	for _, r := range in.Errors {
		if r.Resolved && r.ResolvedAt != nil {
			recoverySum += r.ResolvedAt.Sub(r.Timestamp)
			recovered++
		}
	}

	perfScore := math.Round(e.PerformanceScore(perfIn))
	stabScore := math.Round(e.StabilityScore(stabIn))

	uptime := 1.0
	if t.UptimeFullAfter > 0 {
		uptime = math.Min(1, in.Uptime.Hours()/t.UptimeFullAfter.Hours())
	}
	errorRatePct := 0.0
	if errs.Total > 0 {
		errorRatePct = float64(errs.Pending) / float64(errs.Total) * 100
	}
	recoveryMs := 0.0
	if recovered > 0 {
		recoveryMs = float64(recoverySum.Milliseconds()) / float64(recovered)
	}

	peak := in.PeakMemoryBytes
	if in.CurrentMemoryBytes > peak {
		peak = in.CurrentMemoryBytes
	}

	slow, optimized := 0, 0
	for _, s := range window {
		if !s.Operation.IsQuery() {
			continue
		}
		if s.Operation == metrics.OpCacheHit {
			optimized++
		}
		if s.DurationMs > t.SlowQueryMs {
			slow++
		}
	}

	return SystemHealth{
		Overall: e.Classify(perfScore, stabScore, errs.Pending),
		Performance: PerformanceHealth{
			Score:             int(perfScore),
			AvgResponseTimeMs: perfIn.AvgResponseMs,
			SlowQueries:       slow,
			OptimizedQueries:  optimized,
			CacheHitRatePct:   perfIn.HitRate * 100,
		},
		Stability: StabilityHealth{
			Score:          int(stabScore),
			UptimeFraction: uptime,
			UptimePct:      uptime * 100,
			ErrorRatePct:   errorRatePct,
			CrashCount:     crashes,
			RecoveryTimeMs: recoveryMs,
		},
		Memory: MemoryHealth{
			CurrentMB:     perfIn.MemoryMB,
			PeakMB:        metrics.BytesToMB(peak),
			AverageMB:     metrics.BytesToMB(metrics.AverageMemory(window)),
			Leaks:         e.countLeaks(in.Errors),
			Optimizations: optimizations,
		},
		Errors:          errs,
		LastCheck:       in.Now,
		Recommendations: e.Recommend(perfIn, errs.Pending),
		Degraded:        in.Degraded,
	}
}

func (e *Evaluator) summarizeErrors(records []errorlog.Record) ErrorSummary {
	sum := ErrorSummary{Total: len(records), ByType: make(map[string]int)}
	for _, r := range records {
		sum.ByType[r.Type]++
		if r.Resolved {
			sum.Resolved++
		} else {
			sum.Pending++
		}
	}

	recent := slices.Clone(records)
	slices.SortStableFunc(recent, func(a, b errorlog.Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if n := e.t.RecentErrors; n >= 0 && len(recent) > n {
		recent = recent[:n]
	}
	if recent == nil {
		recent = []errorlog.Record{}
	}
	sum.Recent = recent
	return sum
}

// countLeaks counts unresolved records whose type is a leak type.
func (e *Evaluator) countLeaks(records []errorlog.Record) int {
	n := 0
	for _, r := range records {
		if !r.Resolved && slices.Contains(e.t.LeakTypes, r.Type) {
			n++
		}
	}
	return n
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}
