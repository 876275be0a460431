// Package ratelimit implements a fixed window request counter keyed by client identifier.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/coursekit/core"
)

// Store counts hits per key within fixed windows.
type Store interface {
	// Increment adds a hit for key and returns the hit count of the current window and the
	// time it ends. A window whose end has passed starts over at 1.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter allows at most limit calls per key in each window.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	logger  core.Logger
	nowFunc func() time.Time
}

func NewLimiter(store Store, limit int, window time.Duration, logger core.Logger) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window, logger: logger, nowFunc: time.Now}
}

// NewLimiterFromConfig builds the process-wide limiter. It is meant to be created once and shared.
func NewLimiterFromConfig(conf *core.Config, store Store, logger core.Logger) *Limiter {
	return NewLimiter(store, conf.RateLimit.MaxRequests, conf.RateLimit.Window, logger)
}

func (l *Limiter) Limit() int            { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// CheckAndIncrement records a call for key and reports whether it is within the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string) bool {
	return l.Check(ctx, key).Allowed
}

// Check is CheckAndIncrement with the counters needed for rate limit headers.
// A failing store lets the call through: the limiter only deters abuse.
func (l *Limiter) Check(ctx context.Context, key string) Decision {
	now := l.nowFunc()
	count, resetAt, err := l.store.Increment(ctx, key, l.window, now)
	if err != nil {
		l.logger.Error(fmt.Sprintf("rate limit store: %v", err), err)
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
