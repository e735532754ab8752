package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anmar534/desktop-management-system/internal/circuitbreaker"
	"github.com/anmar534/desktop-management-system/internal/config"
)

// countingKV counts calls to the wrapped store and can be switched to fail.
type countingKV struct {
	KV
	gets    atomic.Int64
	failing atomic.Bool
}

var errBackend = errors.New("connection refused")

func (c *countingKV) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if c.failing.Load() {
		return nil, errBackend
	}
	return c.KV.Get(ctx, key)
}

func (c *countingKV) Put(ctx context.Context, key string, value []byte) error {
	if c.failing.Load() {
		return errBackend
	}
	return c.KV.Put(ctx, key, value)
}

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, "errors/1", []byte(`{"id":"1"}`)))
	require.NoError(t, kv.Put(ctx, "errors/2", []byte(`{"id":"2"}`)))
	require.NoError(t, kv.Put(ctx, "health/last", []byte(`{}`)))

	val, err := kv.Get(ctx, "errors/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1"}`, string(val))

	listed, err := kv.List(ctx, "errors/")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, kv.Delete(ctx, "errors/1"))
	_, err = kv.Get(ctx, "errors/1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKV_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	buf := []byte(`"a"`)
	require.NoError(t, kv.Put(ctx, "k", buf))
	buf[1] = 'b'

	val, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(val))
}

func TestMemoryKV_HonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryKV().Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedKV_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingKV{KV: NewMemoryKV()}
	kv, err := NewCachedKV(inner, 1, time.Minute)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Put(ctx, "health/last", []byte(`{"overall":"good"}`)))

	for i := 0; i < 3; i++ {
		val, err := kv.Get(ctx, "health/last")
		require.NoError(t, err)
		assert.JSONEq(t, `{"overall":"good"}`, string(val))
	}
	assert.Equal(t, int64(0), inner.gets.Load(), "written values are served from the cache")

	kv.Invalidate()
	_, err = kv.Get(ctx, "health/last")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.gets.Load())
}

func TestCachedKV_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	kv, err := NewCachedKV(NewMemoryKV(), 1, time.Minute)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Put(ctx, "k", []byte(`1`)))
	require.NoError(t, kv.Delete(ctx, "k"))

	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBreakerKV_OpensOnBackendFailures(t *testing.T) {
	ctx := context.Background()
	inner := &countingKV{KV: NewMemoryKV()}
	kv := NewBreakerKV(inner, circuitbreaker.Config{Name: "test-storage", FailureThreshold: 2, Timeout: time.Hour})

	inner.failing.Store(true)
	for i := 0; i < 2; i++ {
		_, err := kv.Get(ctx, "k")
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, circuitbreaker.StateOpen, kv.State())

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(2), inner.gets.Load(), "open circuit must not reach the backend")
}

func TestBreakerKV_NotFoundIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	kv := NewBreakerKV(NewMemoryKV(), circuitbreaker.Config{Name: "test-notfound", FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := kv.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, kv.State())
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `errors/%`, likePrefix("errors/"))
	assert.Equal(t, `a\_b\%c\\%`, likePrefix(`a_b%c\`))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, &config.Config{StorageDriver: "memory", StorageCacheMB: 1, StorageCacheTTL: time.Minute})
	require.NoError(t, err)
	defer kv.Close()
	require.NoError(t, kv.Put(ctx, "k", []byte(`true`)))

	_, err = Open(ctx, &config.Config{StorageDriver: "sqlite"})
	assert.Error(t, err)

	_, err = Open(ctx, &config.Config{StorageDriver: "postgres"})
	assert.Error(t, err, "postgres without DATABASE_URL must fail")
}
