package optimizer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/health"
	"github.com/anmar534/desktop-management-system/internal/metrics"
	"github.com/anmar534/desktop-management-system/internal/storage"
)

func TestMonitor_TickPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	e := newTestEngine(t)
	m := NewMonitor(e, kv)

	var got atomic.Int32
	unsubscribe := m.Subscribe(func(h health.SystemHealth) { got.Add(1) })

	h := m.Tick(ctx)
	assert.Equal(t, int32(1), got.Load())

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, h.Overall, last.Overall)

	raw, err := kv.Get(ctx, LastHealthKey)
	require.NoError(t, err)
	var stored health.SystemHealth
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, h.Performance.Score, stored.Performance.Score)

	unsubscribe()
	m.Tick(ctx)
	assert.Equal(t, int32(1), got.Load(), "unsubscribed callbacks are not called")
}

func TestMonitor_LoadLast(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	first := NewMonitor(newTestEngine(t), kv)
	first.Tick(ctx)

	second := NewMonitor(newTestEngine(t), kv)
	_, ok := second.Last()
	require.False(t, ok)
	require.NoError(t, second.LoadLast(ctx))
	_, ok = second.Last()
	assert.True(t, ok)

	empty := NewMonitor(newTestEngine(t), storage.NewMemoryKV())
	assert.NoError(t, empty.LoadLast(ctx), "a missing snapshot is not an error")
}

func TestMonitor_TickRunsMaintenanceByRule(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, WithClock(clock.Now))
	m := NewMonitor(e, nil)

	_, err := OptimizeQuery(ctx, e, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	require.NoError(t, e.SetRuleEnabled(RuleMemoryCleanup, false))
	require.NoError(t, e.SetRuleEnabled(RuleMetricsPruning, false))
	m.Tick(ctx)
	assert.Equal(t, 1, e.CacheStats().Size, "no cleanup with both rules off")
	assert.Len(t, e.Samples(), 1)

	require.NoError(t, e.SetRuleEnabled(RuleMetricsPruning, true))
	m.Tick(ctx)
	assert.Equal(t, 1, e.CacheStats().Size, "pruning alone leaves the cache alone")
	assert.Empty(t, e.Samples())

	require.NoError(t, e.SetRuleEnabled(RuleMemoryCleanup, true))
	m.Tick(ctx)
	assert.Equal(t, 0, e.CacheStats().Size)
	assert.Equal(t, 1, countOps(e.Samples(), metrics.OpMemoryOptimization))
}

func TestMonitor_StartStop(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.UpdateConfig(config.OptimizationPatch{MonitoringInterval: ptr(10 * time.Millisecond)}))
	m := NewMonitor(e, nil)

	ticks := make(chan struct{}, 16)
	m.Subscribe(func(health.SystemHealth) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	m.Start(context.Background())
	m.Start(context.Background()) // no-op while running

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("monitor did not tick")
		}
	}

	m.Stop()
	m.Stop() // idempotent
}

func TestMonitor_StopsOnContextCancel(t *testing.T) {
	e := newTestEngine(t)
	m := NewMonitor(e, nil)
	ctx, cancel := context.WithCancel(context.Background())

	m.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
