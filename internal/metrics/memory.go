package metrics

import (
	"runtime"
	"sync"
	"time"
)

// MemoryReader returns the current heap usage in bytes.
type MemoryReader func() uint64

// HeapSampler reads runtime heap usage at most once per interval.
// runtime.ReadMemStats stops the world, so per-sample reads are cached.
type HeapSampler struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	value    uint64
}

// NewHeapSampler creates a sampler refreshing at most once per interval.
func NewHeapSampler(interval time.Duration) *HeapSampler {
	return &HeapSampler{interval: interval}
}

// Read returns the cached heap allocation, refreshing it when stale.
func (h *HeapSampler) Read() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last.IsZero() || time.Since(h.last) >= h.interval {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		h.value = ms.HeapAlloc
		h.last = time.Now()
	}
	return h.value
}

// BytesToMB converts bytes to mebibytes.
func BytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
