// Package memory provides in-memory implementations of outbound ports.
//
// Every store here is thread-safe and single-process. They back dev mode and
// unit tests; a multi-instance deployment must use the redis adapters.
package memory

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = 1 * time.Minute

// Option configures a memory store.
type Option func(*options)

type options struct {
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cleanupInterval = d
		}
	}
}

// WithNowFunc overrides the clock used for TTL decisions.
func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{cleanupInterval: DefaultCleanupInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// janitor runs a periodic sweep until stopped.
type janitor struct {
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once // Prevent double-close panic on Stop()
}

func newJanitor(interval time.Duration) *janitor {
	return &janitor{interval: interval, stopChan: make(chan struct{})}
}

// start launches the sweep goroutine. Call stop to end it.
func (j *janitor) start(ctx context.Context, sweep func()) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopChan:
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}

// stop ends the sweep goroutine and waits for it. Safe to call multiple times.
func (j *janitor) stop() {
	j.once.Do(func() {
		close(j.stopChan)
	})
	j.wg.Wait()
}

// entry is a value with an absolute expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// expiringMap is a mutex-guarded map whose entries vanish after their TTL.
// Reads treat expired entries as absent; the janitor reclaims them.
type expiringMap[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

func newExpiringMap[V any](now func() time.Time) *expiringMap[V] {
	return &expiringMap[V]{entries: make(map[string]entry[V]), now: now}
}

func (m *expiringMap[V]) set(key string, v V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry[V]{value: v, expiresAt: m.now().Add(ttl)}
}

func (m *expiringMap[V]) get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// pop returns and removes key in one critical section.
func (m *expiringMap[V]) pop(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	if !ok || !m.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *expiringMap[V]) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *expiringMap[V]) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cleaned := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			cleaned++
		}
	}
	return cleaned
}

func (m *expiringMap[V]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
