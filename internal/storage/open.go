package storage

import (
	"context"
	"fmt"

	"github.com/anmar534/desktop-management-system/internal/circuitbreaker"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/secrets"
)

// Open builds the configured store: a memory or postgres backend, behind a
// ristretto read cache, behind a circuit breaker.
func Open(ctx context.Context, cfg *config.Config) (KV, error) {
	var base KV
	switch cfg.StorageDriver {
	case "", "memory":
		base = NewMemoryKV()
	case "postgres":
		pg, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w (database %s)", err, secrets.MaskURL(cfg.DatabaseURL))
		}
		base = pg
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}

	cached, err := NewCachedKV(base, cfg.StorageCacheMB, cfg.StorageCacheTTL)
	if err != nil {
		base.Close()
		return nil, fmt.Errorf("storage: create read cache: %w", err)
	}

	logger.WithComponent("storage").Info("Storage opened",
		"driver", cfg.StorageDriver,
		"database", secrets.MaskURL(cfg.DatabaseURL),
		"cache_mb", cfg.StorageCacheMB,
		"cache_ttl", cfg.StorageCacheTTL)

	return NewBreakerKV(cached, circuitbreaker.Config{
		Name:             "storage",
		FailureThreshold: cfg.StorageBreakerFailures,
		Timeout:          cfg.StorageBreakerTimeout,
	}), nil
}
