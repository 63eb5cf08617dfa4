// Package identity maps the signals on an event to one canonical session.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"visitguard/internal/cache"
	"visitguard/internal/model"
)

// Method names how an event was tied to its session.
type Method string

const (
	MethodSessionID   Method = "session_id"
	MethodFingerprint Method = "fingerprint"
	MethodComputerID  Method = "computer_id"
	MethodIP          Method = "ip"
	MethodNew         Method = "new"
)

const (
	DefaultSessionIdle = 30 * time.Minute
	DefaultMatchWindow = 60 * time.Minute
	maxSessionIDLength = 128
)

var errMissingWebsite = errors.New("identity: website id is required")

// Identity is the resolved session for one event.
type Identity struct {
	Session      *model.Session
	IsNewSession bool
	Method       Method
}

// Key is the canonical identity used for dedup and history.
func (i Identity) Key() string { return i.Session.ID }

type Config struct {
	SessionIdle time.Duration
	MatchWindow time.Duration
}

func DefaultConfig() Config {
	return Config{SessionIdle: DefaultSessionIdle, MatchWindow: DefaultMatchWindow}
}

type Resolver struct {
	store *SessionStore
	cfg   Config
	log   *zap.Logger
}

func NewResolver(c cache.Cache, logger *zap.Logger, cfg Config) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store: NewSessionStore(c, cfg.SessionIdle, cfg.MatchWindow),
		cfg:   cfg,
		log:   logger.Named("identity"),
	}
}

// Resolve picks the session for sig. An explicit session id wins, then a
// recent fingerprint or computer id match, then the address the session was
// last active from. Otherwise a new session is created and saved.
func (r *Resolver) Resolve(ctx context.Context, sig model.IdentitySignals, now time.Time) (Identity, error) {
	if sig.WebsiteID == "" {
		return Identity{}, errMissingWebsite
	}
	validID := ValidSessionID(sig.SessionID)

	if validID {
		if s, ok := r.store.Get(ctx, sig.SessionID); ok && r.live(s, sig.WebsiteID, now) {
			return Identity{Session: s, Method: MethodSessionID}, nil
		}
	}
	if s, ok := r.store.Lookup(ctx, sig.WebsiteID, indexFingerprint, sig.Fingerprint); ok && r.recent(s, sig.WebsiteID, now) && s.Fingerprint == sig.Fingerprint {
		return Identity{Session: s, Method: MethodFingerprint}, nil
	}
	if s, ok := r.store.Lookup(ctx, sig.WebsiteID, indexComputerID, sig.ComputerID); ok && r.recent(s, sig.WebsiteID, now) && s.ComputerID == sig.ComputerID {
		return Identity{Session: s, Method: MethodComputerID}, nil
	}
	if s, ok := r.store.Lookup(ctx, sig.WebsiteID, indexIP, sig.IP); ok && r.live(s, sig.WebsiteID, now) && s.IP == sig.IP {
		return Identity{Session: s, Method: MethodIP}, nil
	}

	id := sig.SessionID
	if !validID || r.taken(ctx, id, sig.WebsiteID, now) {
		id = uuid.NewString()
	}
	s := &model.Session{
		ID:           id,
		WebsiteID:    sig.WebsiteID,
		Fingerprint:  sig.Fingerprint,
		ComputerID:   sig.ComputerID,
		IP:           sig.IP,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.store.Save(ctx, s, now)
	r.store.Index(ctx, s.WebsiteID, indexFingerprint, s.Fingerprint, s.ID, r.cfg.MatchWindow)
	r.store.Index(ctx, s.WebsiteID, indexComputerID, s.ComputerID, s.ID, r.cfg.MatchWindow)
	r.store.Index(ctx, s.WebsiteID, indexIP, s.IP, s.ID, r.cfg.SessionIdle)
	r.log.Debug("session created", zap.String("session_id", s.ID), zap.String("website_id", s.WebsiteID))
	return Identity{Session: s, IsNewSession: true, Method: MethodNew}, nil
}

// Touch records activity on an accepted event: it extends the session and
// bumps its visit count. The latest stored copy is used when available.
func (r *Resolver) Touch(ctx context.Context, s *model.Session, now time.Time) *model.Session {
	cur := s
	if stored, ok := r.store.Get(ctx, s.ID); ok && stored.WebsiteID == s.WebsiteID {
		cur = stored
	}
	next := *cur
	if now.After(next.LastActivity) {
		next.LastActivity = now
	}
	next.VisitCount++
	if s.IP != "" {
		next.IP = s.IP
	}
	r.store.Save(ctx, &next, now)
	r.store.Index(ctx, next.WebsiteID, indexIP, next.IP, next.ID, r.cfg.SessionIdle)
	return &next
}

func (r *Resolver) live(s *model.Session, websiteID string, now time.Time) bool {
	return s.WebsiteID == websiteID && !s.Expired(now, r.cfg.SessionIdle)
}

func (r *Resolver) recent(s *model.Session, websiteID string, now time.Time) bool {
	return r.live(s, websiteID, now) && now.Sub(s.CreatedAt) < r.cfg.MatchWindow
}

// taken reports whether a live session with id already belongs to another website.
func (r *Resolver) taken(ctx context.Context, id, websiteID string, now time.Time) bool {
	s, ok := r.store.Get(ctx, id)
	return ok && s.WebsiteID != websiteID && !s.Expired(now, r.cfg.SessionIdle)
}

// ValidSessionID reports whether id is a usable client-supplied session token.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == ':', c == '-':
		default:
			return false
		}
	}
	return true
}
