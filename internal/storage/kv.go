// Package storage provides the key-value persistence used for the error log and
// health snapshots. Cache-layer correctness never depends on it.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: key not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("storage: unavailable")
)

// KV is an opaque key-value store. Values are JSON documents.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every key/value pair whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}
