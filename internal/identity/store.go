package identity

import (
	"context"
	"time"

	"visitguard/internal/cache"
	"visitguard/internal/model"
)

type indexKind string

const (
	indexFingerprint indexKind = "fp"
	indexComputerID  indexKind = "cid"
	indexIP          indexKind = "ip"
)

// SessionStore keeps sessions and their lookup indexes in the cache layer.
// Every write is fire-and-forget on the shared tier.
type SessionStore struct {
	cache    cache.Cache
	idle     time.Duration
	indexTTL time.Duration
}

func NewSessionStore(c cache.Cache, idle, indexTTL time.Duration) *SessionStore {
	return &SessionStore{cache: c, idle: idle, indexTTL: indexTTL}
}

// Get returns the session with id, expired or not.
func (s *SessionStore) Get(ctx context.Context, id string) (*model.Session, bool) {
	var sess model.Session
	if !s.cache.Get(ctx, cache.CategorySession, id, &sess) {
		return nil, false
	}
	return &sess, true
}

// Save stores the session until it would expire from inactivity.
func (s *SessionStore) Save(ctx context.Context, sess *model.Session, now time.Time) {
	ttl := sess.ExpiresAt(s.idle).Sub(now)
	if ttl <= 0 {
		return
	}
	s.cache.Set(ctx, cache.CategorySession, sess.ID, sess, ttl)
}

// Index points a signal at a session id.
func (s *SessionStore) Index(ctx context.Context, websiteID string, kind indexKind, value, sessionID string, ttl time.Duration) {
	if value == "" {
		return
	}
	s.cache.Set(ctx, cache.CategorySessionIndex, indexKey(websiteID, kind, value), sessionID, ttl)
}

// Lookup follows an index to its session.
func (s *SessionStore) Lookup(ctx context.Context, websiteID string, kind indexKind, value string) (*model.Session, bool) {
	if value == "" {
		return nil, false
	}
	var id string
	if !s.cache.Get(ctx, cache.CategorySessionIndex, indexKey(websiteID, kind, value), &id) || id == "" {
		return nil, false
	}
	return s.Get(ctx, id)
}

func indexKey(websiteID string, kind indexKind, value string) string {
	return websiteID + "|" + string(kind) + ":" + value
}
