// Package kv provides the small key-value store the housekeeping
// publisher (internal/sbn/housekeeping) uses to hold the latest telemetry
// snapshot for the debug HTTP surface to serve, optionally backed by
// Redis so multiple debug-HTTP replicas in front of one engine can share
// a snapshot.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/sbn-project/sbn/internal/config"
)

// KV is the narrow store the housekeeping package depends on: set/get a blob by key, with optional TTL, plus pattern scanning for
// enumerating snapshot keys across engines sharing one store.
type KV interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	Close() error
}

// MakeKV constructs a KV store per cfg.Cache: Redis-backed when enabled,
// otherwise an in-process store scoped to this run.
func MakeKV(ctx context.Context, cfg *config.Config) (KV, error) {
	if cfg.Cache.Redis.Enabled {
		store, err := makeRedisKV(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis kv: %w", err)
		}
		return store, nil
	}
	return makeInMemoryKV(), nil
}
