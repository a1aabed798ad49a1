package admin

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default admin throttle: 120 requests per 60 seconds per key.
const (
	DefaultRateLimit  = 120
	DefaultRateWindow = 60 * time.Second
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a process-local RateLimiter. Entries are created lazily
// and overwritten once their window has elapsed.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*rateEntry
	clock   func() time.Time
}

// MemoryOption customises a MemoryRateLimiter.
type MemoryOption func(*MemoryRateLimiter)

// WithClock overrides the limiter clock.
func WithClock(clock func() time.Time) MemoryOption {
	return func(l *MemoryRateLimiter) {
		l.clock = clock
	}
}

// NewMemoryRateLimiter constructs a limiter allowing limit requests per window.
func NewMemoryRateLimiter(limit int, window time.Duration, opts ...MemoryOption) *MemoryRateLimiter {
	l := &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*rateEntry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for key.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	entry, ok := l.entries[key]
	if !ok || !entry.resetAt.After(now) {
		entry = &rateEntry{count: 1, resetAt: now.Add(l.window)}
		l.entries[key] = entry
		return Decision{Allowed: true, Count: 1, ResetAt: entry.resetAt}, nil
	}
	if entry.count >= l.limit {
		return Decision{Allowed: false, Count: entry.count, ResetAt: entry.resetAt}, nil
	}
	entry.count++
	return Decision{Allowed: true, Count: entry.count, ResetAt: entry.resetAt}, nil
}

// Len returns the number of tracked keys.
func (l *MemoryRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

//go:embed ratelimit.lua
var rateLimitScriptSource string

var rateLimitScript = redis.NewScript(rateLimitScriptSource)

// RedisRateLimiter shares fixed windows across processes through Redis.
type RedisRateLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	clock  func() time.Time
}

// NewRedisRateLimiter constructs a RedisRateLimiter.
func NewRedisRateLimiter(client redis.Scripter, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
		clock:  time.Now,
	}
}

// Allow records one request for key.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rateLimitScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("admin: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("admin: rate limit %s: unexpected reply", key)
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}
	return Decision{
		Allowed: count <= l.limit,
		Count:   count,
		ResetAt: l.clock().Add(ttl),
	}, nil
}
