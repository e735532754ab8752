package metrics

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long samples are kept by Prune when no window is given.
const DefaultRetention = time.Hour

// Sample is one recorded operation.
type Sample struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Operation        Operation `json:"operation"`
	Component        string    `json:"component,omitempty"`
	DurationMs       float64   `json:"duration_ms"`
	MemoryUsageBytes uint64    `json:"memory_usage_bytes"`
	IsError          bool      `json:"is_error"`
	SessionID        string    `json:"session_id"`
}

// Recorder is an append-only rolling log of performance samples.
type Recorder struct {
	mu      sync.RWMutex
	samples []Sample
	peak    uint64

	enabled atomic.Bool
	now     func() time.Time
	memory  MemoryReader

	sessionOnce sync.Once
	sessionID   string
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock replaces time.Now.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithMemoryReader replaces the heap sampler.
func WithMemoryReader(fn MemoryReader) RecorderOption {
	return func(r *Recorder) { r.memory = fn }
}

// NewRecorder creates an enabled recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		now:    time.Now,
		memory: NewHeapSampler(time.Second).Read,
	}
	r.enabled.Store(true)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetEnabled turns recording on or off.
func (r *Recorder) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Enabled reports whether Record appends samples.
func (r *Recorder) Enabled() bool { return r.enabled.Load() }

// SessionID returns the recorder's session id, creating it on first use.
func (r *Recorder) SessionID() string {
	r.sessionOnce.Do(func() {
		r.sessionID = newSessionID(r.now())
	})
	return r.sessionID
}

func newSessionID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) > 9 {
		suffix = suffix[:9]
	} else {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}

// CurrentMemory returns the latest heap reading in bytes.
func (r *Recorder) CurrentMemory() uint64 { return r.memory() }

// Record appends a sample. It is a no-op while recording is disabled.
func (r *Recorder) Record(op Operation, component string, d time.Duration, isError bool) {
	if !r.enabled.Load() {
		return
	}

	mem := r.memory()
	s := Sample{
		ID:               uuid.NewString(),
		Timestamp:        r.now(),
		Operation:        op,
		Component:        component,
		DurationMs:       float64(d) / float64(time.Millisecond),
		MemoryUsageBytes: mem,
		IsError:          isError,
		SessionID:        r.SessionID(),
	}

	r.mu.Lock()
	r.samples = append(r.samples, s)
	if mem > r.peak {
		r.peak = mem
	}
	n := len(r.samples)
	r.mu.Unlock()

	OperationsTotal.WithLabelValues(op.String()).Inc()
	OperationDuration.WithLabelValues(op.String()).Observe(d.Seconds())
	SamplesRetained.Set(float64(n))
}

// Prune removes every sample older than now-window and returns how many were dropped.
// window <= 0 uses DefaultRetention.
func (r *Recorder) Prune(window time.Duration) int {
	if window <= 0 {
		window = DefaultRetention
	}
	cutoff := r.now().Add(-window)

	r.mu.Lock()
	kept := r.samples[:0]
	for _, s := range r.samples {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	dropped := len(r.samples) - len(kept)
	// zero the tail so pruned samples can be collected
	for i := len(kept); i < len(r.samples); i++ {
		r.samples[i] = Sample{}
	}
	r.samples = kept
	n := len(kept)
	r.mu.Unlock()

	SamplesPruned.Add(float64(dropped))
	SamplesRetained.Set(float64(n))
	return dropped
}

// Window returns a copy of the samples recorded within the last d.
func (r *Recorder) Window(d time.Duration) []Sample {
	cutoff := r.now().Add(-d)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sample, 0, len(r.samples))
	for _, s := range r.samples {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// All returns a copy of every retained sample in recording order.
func (r *Recorder) All() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of retained samples.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// PeakMemory returns the highest heap reading seen since the last Clear.
func (r *Recorder) PeakMemory() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peak
}

// Clear drops every sample and the peak memory reading.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.samples = nil
	r.peak = 0
	r.mu.Unlock()
	SamplesRetained.Set(0)
}

// CacheHitRate returns the hit rate over the last window.
func (r *Recorder) CacheHitRate(window time.Duration) float64 {
	return HitRate(r.Window(window))
}

// ErrorRate returns the query error rate over the last window.
func (r *Recorder) ErrorRate(window time.Duration) float64 {
	return ErrorRate(r.Window(window))
}

// HitRate is count(cache_hit) / count(query operations), or 0 with no query samples.
func HitRate(samples []Sample) float64 {
	var hits, total int
	for _, s := range samples {
		if !s.Operation.IsQuery() {
			continue
		}
		total++
		if s.Operation == OpCacheHit {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ErrorRate is count(query_error) / count(query operations), or 0 with no query samples.
func ErrorRate(samples []Sample) float64 {
	var errs, total int
	for _, s := range samples {
		if !s.Operation.IsQuery() {
			continue
		}
		total++
		if s.IsError {
			errs++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(errs) / float64(total)
}

// AverageDurationMs is the mean duration of query samples, or 0 with none.
func AverageDurationMs(samples []Sample) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if !s.Operation.IsQuery() {
			continue
		}
		sum += s.DurationMs
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AverageMemory is the mean memory reading across samples, or 0 with none.
func AverageMemory(samples []Sample) uint64 {
	if len(samples) == 0 {
		return 0
	}
	var sum uint64
	for _, s := range samples {
		sum += s.MemoryUsageBytes
	}
	return sum / uint64(len(samples))
}
