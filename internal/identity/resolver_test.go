package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"visitguard/internal/cache"
	"visitguard/internal/model"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newResolver(t *testing.T) (*Resolver, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	local := cache.NewLocal(cache.WithClock(c.Now), cache.WithSweepInterval(0))
	t.Cleanup(local.Close)
	return NewResolver(cache.NewStore(local, nil, nil), nil, DefaultConfig()), c
}

func TestFingerprintMatchesRecentSession(t *testing.T) {
	r, c := newResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", Fingerprint: "fp123", IP: "203.0.113.1"}, c.Now())
	require.NoError(t, err)
	require.True(t, first.IsNewSession)
	r.Touch(ctx, first.Session, c.Now())

	c.Advance(10 * time.Minute)
	second, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", Fingerprint: "fp123", IP: "198.51.100.9"}, c.Now())
	require.NoError(t, err)
	require.False(t, second.IsNewSession)
	require.Equal(t, MethodFingerprint, second.Method)
	require.Equal(t, first.Key(), second.Key())
}

func TestSessionIDTakesPrecedence(t *testing.T) {
	r, c := newResolver(t)
	ctx := context.Background()

	a, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", SessionID: "sess-a", Fingerprint: "fp-a"}, c.Now())
	require.NoError(t, err)
	require.Equal(t, "sess-a", a.Session.ID)
	b, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", Fingerprint: "fp-b"}, c.Now())
	require.NoError(t, err)

	got, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", SessionID: "sess-a", Fingerprint: "fp-b"}, c.Now())
	require.NoError(t, err)
	require.Equal(t, MethodSessionID, got.Method)
	require.Equal(t, "sess-a", got.Session.ID)
	require.NotEqual(t, b.Key(), got.Key())
}

func TestComputerIDAndIPFallbacks(t *testing.T) {
	r, c := newResolver(t)
	ctx := context.Background()

	orig, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", ComputerID: "cid-1", IP: "203.0.113.5"}, c.Now())
	require.NoError(t, err)

	byCID, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", ComputerID: "cid-1"}, c.Now())
	require.NoError(t, err)
	require.Equal(t, MethodComputerID, byCID.Method)
	require.Equal(t, orig.Key(), byCID.Key())

	byIP, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", IP: "203.0.113.5"}, c.Now())
	require.NoError(t, err)
	require.Equal(t, MethodIP, byIP.Method)
	require.Equal(t, orig.Key(), byIP.Key())

	other, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w2", IP: "203.0.113.5"}, c.Now())
	require.NoError(t, err)
	require.True(t, other.IsNewSession)
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	r, c := newResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", SessionID: "s1", Fingerprint: "fp"}, c.Now())
	require.NoError(t, err)
	r.Touch(ctx, first.Session, c.Now())

	c.Advance(29 * time.Minute)
	again, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", SessionID: "s1"}, c.Now())
	require.NoError(t, err)
	require.False(t, again.IsNewSession)
	touched := r.Touch(ctx, again.Session, c.Now())
	require.Equal(t, 2, touched.VisitCount)
	require.False(t, touched.LastActivity.Before(touched.CreatedAt))

	c.Advance(31 * time.Minute)
	later, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", SessionID: "s1", Fingerprint: "fp"}, c.Now())
	require.NoError(t, err)
	require.True(t, later.IsNewSession)
	require.Equal(t, MethodNew, later.Method)
}

func TestFingerprintIgnoredAfterMatchWindow(t *testing.T) {
	r, c := newResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", Fingerprint: "fp"}, c.Now())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		c.Advance(25 * time.Minute)
		r.Touch(ctx, first.Session, c.Now())
	}

	got, err := r.Resolve(ctx, model.IdentitySignals{WebsiteID: "w1", Fingerprint: "fp"}, c.Now())
	require.NoError(t, err)
	require.True(t, got.IsNewSession)
}

func TestInvalidSessionIDIsReplaced(t *testing.T) {
	r, c := newResolver(t)

	got, err := r.Resolve(context.Background(), model.IdentitySignals{WebsiteID: "w1", SessionID: "bad id <script>"}, c.Now())
	require.NoError(t, err)
	_, err = uuid.Parse(got.Session.ID)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), model.IdentitySignals{}, c.Now())
	require.Error(t, err)
}

func TestValidSessionID(t *testing.T) {
	require.True(t, ValidSessionID("abc_DEF.1:2-3"))
	require.False(t, ValidSessionID(""))
	require.False(t, ValidSessionID("has space"))
	require.False(t, ValidSessionID(strings.Repeat("a", 129)))
	require.True(t, ValidSessionID(strings.Repeat("a", 128)))
}
