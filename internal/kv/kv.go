package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/headless-cms/authserver/config"
)

// Store is the small key/value surface used for rate-limit counters and
// revoked session IDs. Every key carries a TTL.
type Store interface {
	// Incr increments the counter at key and returns the new value. The TTL
	// is applied only when the increment creates the key, so a window starts
	// at its first hit and is never extended.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the store selected by cfg.Backend. Replicated deployments
// need "redis" so that limits and revocations are shared.
func Open(ctx context.Context, cfg config.KVConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(0), nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.Backend)
	}
}
