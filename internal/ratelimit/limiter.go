// Package ratelimit admits or denies requests per (platform, user) key
// against a per-minute limit. The in-memory backend keeps an exact sliding
// 60-second window; the redis backend trades exactness for shared state
// across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Window is the sliding admission window.
const Window = time.Minute

// Limiter is the admission check. Allow records the request when admitted;
// Remaining reports headroom without recording anything.
type Limiter interface {
	Allow(ctx context.Context, platform, userID string, limit int) (bool, error)
	Remaining(ctx context.Context, platform, userID string, limit int) (int, error)
}

// SlidingWindowLimiter keeps a queue of admission timestamps per key and
// discards entries older than the window on every check.
type SlidingWindowLimiter struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string][]time.Time

	now func() time.Time
}

func NewSlidingWindowLimiter(logger *zap.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		logger:  logger,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func limiterKey(platform, userID string) string {
	return platform + ":" + userID
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, platform, userID string, limit int) (bool, error) {
	key := limiterKey(platform, userID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.pruneLocked(key, now)
	if len(live) >= limit {
		l.logger.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", limit))
		return false, nil
	}

	l.entries[key] = append(live, now)
	return true, nil
}

func (l *SlidingWindowLimiter) Remaining(ctx context.Context, platform, userID string, limit int) (int, error) {
	key := limiterKey(platform, userID)

	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.pruneLocked(key, l.now())
	if remaining := limit - len(live); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// pruneLocked drops expired timestamps for the key and returns the live
// queue. Callers hold l.mu.
func (l *SlidingWindowLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-Window)
	queue := l.entries[key]

	idx := 0
	for idx < len(queue) && !queue[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		queue = queue[idx:]
		l.entries[key] = queue
	}
	return queue
}

// Sweep removes keys whose queues have fully expired so the map does not
// grow with every user ever seen. Empty queues are deleted, not kept as
// placeholders. Operates on a snapshot of keys.
func (l *SlidingWindowLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	removed := 0
	for _, key := range keys {
		l.mu.Lock()
		if len(l.pruneLocked(key, now)) == 0 {
			delete(l.entries, key)
			removed++
		}
		l.mu.Unlock()
	}
	return removed
}

// Run sweeps on the given interval until the context is cancelled.
func (l *SlidingWindowLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
