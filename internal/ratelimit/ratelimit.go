// Package ratelimit implements fixed-window counters over a kv.Store.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/headless-cms/authserver/internal/kv"
	"github.com/headless-cms/authserver/internal/metrics"
)

// Limiter enforces per-key request budgets. Store errors fail open: the
// request is allowed and the error is logged.
type Limiter struct {
	store  kv.Store
	logger *slog.Logger
}

func New(store kv.Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, logger: logger}
}

// Key joins parts into a counter key such as "rl:otp:ada@example.com".
func Key(scope string, parts ...string) string {
	return "rl:" + scope + ":" + strings.Join(parts, ":")
}

// Hit counts one request against key and reports whether it is within limit.
func (l *Limiter) Hit(ctx context.Context, scope, key string, limit int, window time.Duration) bool {
	count, err := l.store.Incr(ctx, key, window)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit store unavailable", "scope", scope, "error", err)
		return true
	}
	if count > int64(limit) {
		metrics.RecordRateLimited(scope)
		return false
	}
	return true
}

// Exceeded reports whether key has already used its budget, without counting.
func (l *Limiter) Exceeded(ctx context.Context, scope, key string, limit int) bool {
	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit store unavailable", "scope", scope, "error", err)
		return false
	}
	if !ok {
		return false
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	if count >= int64(limit) {
		metrics.RecordRateLimited(scope)
		return true
	}
	return false
}

// Record counts one event against key without a decision, e.g. a failed login.
func (l *Limiter) Record(ctx context.Context, scope, key string, window time.Duration) {
	if _, err := l.store.Incr(ctx, key, window); err != nil {
		l.logger.WarnContext(ctx, "rate limit store unavailable", "scope", scope, "error", err)
	}
}

// Reset clears the counter at key, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, scope, key string) {
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.WarnContext(ctx, "rate limit store unavailable", "scope", scope, "error", err)
	}
}
