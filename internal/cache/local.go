package cache

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxEntries    = 100_000
	defaultSweepInterval = time.Minute
)

type localItem struct {
	value   []byte
	expires time.Time
}

// Local is the process-local tier. Entries expire individually and the map is
// bounded; when full, expired entries are swept and then an arbitrary entry is
// evicted.
type Local struct {
	mu         sync.Mutex
	items      map[string]localItem
	maxEntries int
	now        func() time.Time
	stop       chan struct{}
	wg         sync.WaitGroup
}

// LocalOption customizes a Local tier.
type LocalOption func(*localConfig)

type localConfig struct {
	maxEntries int
	sweep      time.Duration
	now        func() time.Time
}

// WithMaxEntries bounds the number of entries held in memory.
func WithMaxEntries(n int) LocalOption {
	return func(c *localConfig) { c.maxEntries = n }
}

// WithSweepInterval sets how often expired entries are purged. Zero disables the janitor.
func WithSweepInterval(d time.Duration) LocalOption {
	return func(c *localConfig) { c.sweep = d }
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) LocalOption {
	return func(c *localConfig) { c.now = now }
}

// NewLocal creates a process-local tier and starts its janitor.
func NewLocal(opts ...LocalOption) *Local {
	cfg := localConfig{maxEntries: defaultMaxEntries, sweep: defaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	l := &Local{
		items:      make(map[string]localItem),
		maxEntries: cfg.maxEntries,
		now:        cfg.now,
		stop:       make(chan struct{}),
	}
	if cfg.sweep > 0 {
		l.wg.Add(1)
		go l.janitor(cfg.sweep)
	}
	return l
}

// Get returns a copy of the stored value and its remaining TTL.
func (l *Local) Get(_ context.Context, key string) ([]byte, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[key]
	if !ok {
		return nil, 0, ErrMiss
	}
	remaining := item.expires.Sub(l.now())
	if remaining <= 0 {
		delete(l.items, key)
		return nil, 0, ErrMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, remaining, nil
}

// Set stores value until ttl elapses. A non-positive ttl removes the key.
func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ttl <= 0 {
		delete(l.items, key)
		return nil
	}
	if _, exists := l.items[key]; !exists && l.maxEntries > 0 && len(l.items) >= l.maxEntries {
		l.evictLocked()
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	l.items[key] = localItem{value: stored, expires: l.now().Add(ttl)}
	return nil
}

// Delete removes key.
func (l *Local) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.items, key)
	l.mu.Unlock()
	return nil
}

// Len reports the number of entries, including ones not yet swept.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Close stops the janitor.
func (l *Local) Close() {
	select {
	case <-l.stop:
		return
	default:
		close(l.stop)
	}
	l.wg.Wait()
}

func (l *Local) janitor(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.sweepLocked()
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

func (l *Local) sweepLocked() int {
	now := l.now()
	removed := 0
	for k, item := range l.items {
		if !now.Before(item.expires) {
			delete(l.items, k)
			removed++
		}
	}
	return removed
}

func (l *Local) evictLocked() {
	if l.sweepLocked() > 0 {
		return
	}
	for k := range l.items {
		delete(l.items, k)
		return
	}
}
