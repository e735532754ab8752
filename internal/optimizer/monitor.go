package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/anmar534/desktop-management-system/internal/health"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/storage"
)

// LastHealthKey is where the monitor persists its latest snapshot.
const LastHealthKey = "health/last"

// Monitor periodically runs maintenance and health checks on an Engine and
// hands every snapshot to its subscribers.
type Monitor struct {
	engine *Engine
	kv     storage.KV
	log    *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(health.SystemHealth)
	nextSub int
	last    *health.SystemHealth
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a monitor. kv may be nil, in which case snapshots are
// kept in memory only.
func NewMonitor(e *Engine, kv storage.KV) *Monitor {
	return &Monitor{
		engine: e,
		kv:     kv,
		log:    logger.WithComponent("monitor"),
		subs:   make(map[int]func(health.SystemHealth)),
	}
}

// Subscribe registers fn for every snapshot and returns a function that
// removes it. fn runs on the monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(health.SystemHealth)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Last returns the latest snapshot, if any.
func (m *Monitor) Last() (health.SystemHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return health.SystemHealth{}, false
	}
	return *m.last, true
}

// LoadLast restores the persisted snapshot so Last has a value before the
// first tick.
func (m *Monitor) LoadLast(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}
	data, err := m.kv.Get(ctx, LastHealthKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var h health.SystemHealth
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	m.mu.Lock()
	if m.last == nil {
		m.last = &h
	}
	m.mu.Unlock()
	return nil
}

// Start runs the monitoring loop until ctx is done or Stop is called. It
// returns immediately. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.run(ctx, stop, done)
}

// Stop ends the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := m.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("Health monitor started", "interval", interval)
	m.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			m.Tick(ctx)
			// Pick up interval changes made through UpdateConfig.
			if next := m.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
				m.log.Info("Health monitor interval changed", "interval", interval)
			}
		case <-stop:
			m.log.Info("Health monitor stopped")
			return
		case <-ctx.Done():
			m.log.Info("Health monitor stopped", "reason", ctx.Err())
			return
		}
	}
}

func (m *Monitor) interval() time.Duration {
	d := m.engine.Config().MonitoringInterval
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// Tick runs one monitoring pass: maintenance gated by the memory-cleanup and
// metrics-pruning rules, a health check, persistence and fan-out.
func (m *Monitor) Tick(ctx context.Context) health.SystemHealth {
	switch {
	case m.engine.RuleEnabled(RuleMemoryCleanup):
		m.engine.OptimizeMemory()
	case m.engine.RuleEnabled(RuleMetricsPruning):
		m.engine.recorder.Prune(0)
	}

	h := m.engine.CheckSystemHealth(ctx)
	if h.Overall == health.StatusCritical {
		m.log.WarnContext(ctx, "System health is critical",
			"performance", h.Performance.Score,
			"stability", h.Stability.Score,
			"pending_errors", h.Errors.Pending)
	}

	m.persist(ctx, h)

	m.mu.Lock()
	m.last = &h
	subs := make([]func(health.SystemHealth), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(h)
	}
	return h
}

func (m *Monitor) persist(ctx context.Context, h health.SystemHealth) {
	if m.kv == nil {
		return
	}
	data, err := json.Marshal(h)
	if err != nil {
		m.log.ErrorContext(ctx, "Failed to encode health snapshot", "error", err)
		return
	}
	if err := m.kv.Put(ctx, LastHealthKey, data); err != nil {
		m.log.WarnContext(ctx, "Failed to persist health snapshot", "error", err)
	}
}
