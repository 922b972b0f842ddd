package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
)

// windowLog is the admitted request times of one key, oldest first.
type windowLog struct {
	hits   []time.Time
	window time.Duration
}

// MemoryWindowCounter implements ratelimit.WindowCounter as a sliding log.
// Includes background cleanup to prevent unbounded memory growth.
type MemoryWindowCounter struct {
	logs    map[string]*windowLog
	mu      sync.Mutex
	now     func() time.Time
	janitor *janitor
}

// NewWindowCounter creates a new in-memory sliding-window counter.
func NewWindowCounter(opts ...Option) *MemoryWindowCounter {
	o := buildOptions(opts)
	return &MemoryWindowCounter{
		logs:    make(map[string]*windowLog),
		now:     o.now,
		janitor: newJanitor(o.cleanupInterval),
	}
}

// Hit drops entries older than the window, then admits the request if
// fewer than limit.Requests remain. Rejected hits are not recorded.
func (c *MemoryWindowCounter) Hit(ctx context.Context, key string, limit ratelimit.Limit, now time.Time) (ratelimit.WindowResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wl, ok := c.logs[key]
	if !ok {
		wl = &windowLog{}
		c.logs[key] = wl
	}
	wl.window = limit.Window
	wl.hits = trimBefore(wl.hits, now.Add(-limit.Window))

	if len(wl.hits) >= limit.Requests {
		return ratelimit.WindowResult{
			Allowed:    false,
			Count:      len(wl.hits),
			RetryAfter: wl.hits[0].Add(limit.Window).Sub(now),
		}, nil
	}

	wl.hits = append(wl.hits, now)
	return ratelimit.WindowResult{Allowed: true, Count: len(wl.hits)}, nil
}

// trimBefore drops hits at or before cutoff. Hits are sorted.
func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// StartCleanup starts the background goroutine removing idle keys.
func (c *MemoryWindowCounter) StartCleanup(ctx context.Context) {
	c.janitor.start(ctx, c.cleanup)
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (c *MemoryWindowCounter) Stop() {
	c.janitor.stop()
}

func (c *MemoryWindowCounter) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cleaned := 0
	for key, wl := range c.logs {
		wl.hits = trimBefore(wl.hits, now.Add(-wl.window))
		if len(wl.hits) == 0 {
			delete(c.logs, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("cleaned idle rate limit keys", "count", cleaned)
	}
}

// Size returns the number of tracked keys.
// Useful for testing cleanup behavior.
func (c *MemoryWindowCounter) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

// MemoryCostLedger implements ratelimit.CostLedger.
type MemoryCostLedger struct {
	totals  *expiringMap[float64]
	janitor *janitor
}

// NewCostLedger creates a new in-memory cost ledger.
func NewCostLedger(opts ...Option) *MemoryCostLedger {
	o := buildOptions(opts)
	return &MemoryCostLedger{
		totals:  newExpiringMap[float64](o.now),
		janitor: newJanitor(o.cleanupInterval),
	}
}

// Total returns the accumulated amount under key, zero if absent.
func (l *MemoryCostLedger) Total(ctx context.Context, key string) (float64, error) {
	v, _ := l.totals.get(key)
	return v, nil
}

// Add increments key by amount. The ttl is applied only when the key is created.
func (l *MemoryCostLedger) Add(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	l.totals.mu.Lock()
	defer l.totals.mu.Unlock()

	now := l.totals.now()
	e, ok := l.totals.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = entry[float64]{expiresAt: now.Add(ttl)}
	}
	e.value += amount
	l.totals.entries[key] = e
	return e.value, nil
}

// StartCleanup starts the background sweep of expired ledger days.
func (l *MemoryCostLedger) StartCleanup(ctx context.Context) {
	l.janitor.start(ctx, func() { l.totals.sweep() })
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (l *MemoryCostLedger) Stop() {
	l.janitor.stop()
}

// Compile-time interface verification.
var (
	_ ratelimit.WindowCounter = (*MemoryWindowCounter)(nil)
	_ ratelimit.CostLedger    = (*MemoryCostLedger)(nil)
)
