package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by category, tier and result",
	}, []string{"category", "tier", "result"})
	sharedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_shared_errors_total",
		Help: "Shared tier failures by operation",
	}, []string{"op"})
)

const (
	defaultReadTimeout  = 250 * time.Millisecond
	defaultWriteTimeout = 2 * time.Second
	defaultCooldown     = 10 * time.Second
)

// Store composes a process-local tier with an optional shared tier.
// Reads check local first, then shared (refreshing local on a hit).
// Writes land in local synchronously and in shared on a background goroutine.
// A failing shared tier is bypassed for a cooldown period.
type Store struct {
	local        Tier
	shared       Tier
	log          *zap.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	cooldown     time.Duration
	now          func() time.Time

	mu        sync.Mutex
	downUntil time.Time
	pending   sync.WaitGroup
}

// Option customizes a Store.
type Option func(*Store)

// WithReadTimeout bounds a shared tier read.
func WithReadTimeout(d time.Duration) Option { return func(s *Store) { s.readTimeout = d } }

// WithWriteTimeout bounds a background shared tier write.
func WithWriteTimeout(d time.Duration) Option { return func(s *Store) { s.writeTimeout = d } }

// WithCooldown sets how long the shared tier is skipped after a failure.
func WithCooldown(d time.Duration) Option { return func(s *Store) { s.cooldown = d } }

// WithStoreClock overrides the time source used for the cooldown.
func WithStoreClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore builds a two-tier store. shared may be nil for local-only operation.
func NewStore(local, shared Tier, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		local:        local,
		shared:       shared,
		log:          logger.Named("cache"),
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		cooldown:     defaultCooldown,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get decodes the cached value for key into dst and reports whether it was found.
// Both tiers missing is a normal outcome; the caller computes and stores the value.
func (s *Store) Get(ctx context.Context, cat Category, key string, dst any) bool {
	k := namespaced(cat, key)
	if raw, _, err := s.local.Get(ctx, k); err == nil {
		if s.decode(cat, raw, dst) {
			lookups.WithLabelValues(string(cat), "local", "hit").Inc()
			return true
		}
	}
	lookups.WithLabelValues(string(cat), "local", "miss").Inc()

	if !s.sharedAvailable() {
		return false
	}
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	raw, ttl, err := s.shared.Get(readCtx, k)
	cancel()
	switch {
	case errors.Is(err, ErrMiss):
		lookups.WithLabelValues(string(cat), "shared", "miss").Inc()
		return false
	case err != nil:
		// A caller that gave up says nothing about the shared tier.
		if ctx.Err() == nil {
			s.markDown("get", err)
		}
		return false
	}
	if !s.decode(cat, raw, dst) {
		return false
	}
	lookups.WithLabelValues(string(cat), "shared", "hit").Inc()
	if ttl > 0 {
		_ = s.local.Set(ctx, k, raw, ttl)
	}
	return true
}

// Set encodes value and stores it in both tiers for ttl without blocking on the shared tier.
func (s *Store) Set(ctx context.Context, cat Category, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Error("encode cache value", zap.String("category", string(cat)), zap.Error(err))
		return
	}
	k := namespaced(cat, key)
	_ = s.local.Set(ctx, k, raw, ttl)
	if !s.sharedAvailable() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
		defer cancel()
		if err := s.shared.Set(writeCtx, k, raw, ttl); err != nil {
			s.markDown("set", err)
		}
	}()
}

// Delete removes key from both tiers. The shared delete runs in the background.
func (s *Store) Delete(ctx context.Context, cat Category, key string) {
	k := namespaced(cat, key)
	_ = s.local.Delete(ctx, k)
	if !s.sharedAvailable() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
		defer cancel()
		if err := s.shared.Delete(delCtx, k); err != nil {
			s.markDown("delete", err)
		}
	}()
}

// Degraded reports whether the store is currently running local-only.
func (s *Store) Degraded() bool {
	return s.shared != nil && !s.sharedAvailable()
}

// Wait blocks until background shared tier writes have finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) decode(cat Category, raw []byte, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Debug("discard undecodable cache value", zap.String("category", string(cat)), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) sharedAvailable() bool {
	if s.shared == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.downUntil)
}

func (s *Store) markDown(op string, err error) {
	sharedErrors.WithLabelValues(op).Inc()
	s.mu.Lock()
	wasUp := !s.now().Before(s.downUntil)
	s.downUntil = s.now().Add(s.cooldown)
	s.mu.Unlock()
	if wasUp {
		s.log.Warn("shared cache unavailable, using local tier only",
			zap.String("op", op),
			zap.Duration("cooldown", s.cooldown),
			zap.Error(err))
	}
}
