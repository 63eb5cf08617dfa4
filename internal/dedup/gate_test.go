package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

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

func newGate(t *testing.T) (*Gate, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	local := cache.NewLocal(cache.WithClock(c.Now), cache.WithSweepInterval(0))
	t.Cleanup(local.Close)
	return NewGate(cache.NewStore(local, nil, nil), DefaultWindows()), c
}

func pageVisit(c *clock) Input {
	return Input{WebsiteID: "w1", IdentityKey: "s1", EventType: model.EventPageVisit, URL: "https://shop.example/a", Now: c.Now()}
}

func TestPageVisitWithinWindowIsSuppressed(t *testing.T) {
	g, c := newGate(t)
	ctx := context.Background()

	first := g.Decide(ctx, pageVisit(c))
	require.True(t, first.Accept)
	require.Equal(t, MsgDirectVisit, first.Message)

	c.Advance(10 * time.Second)
	second := g.Decide(ctx, pageVisit(c))
	require.False(t, second.Accept)
	require.True(t, second.Duplicate)
	require.Equal(t, MsgRecentVisit, second.Message)
	require.NotNil(t, second.PreviousAt)
	require.WithinDuration(t, c.Now().Add(-10*time.Second), *second.PreviousAt, 0)
}

func TestPageVisitAfterWindowIsAccepted(t *testing.T) {
	g, c := newGate(t)
	ctx := context.Background()

	require.True(t, g.Decide(ctx, pageVisit(c)).Accept)
	c.Advance(3 * time.Minute)
	require.True(t, g.Decide(ctx, pageVisit(c)).Accept)
}

func TestHeartbeatWindowAndTypesAreIndependent(t *testing.T) {
	g, c := newGate(t)
	ctx := context.Background()
	hb := func() Input {
		in := pageVisit(c)
		in.EventType = model.EventHeartbeat
		return in
	}

	require.True(t, g.Decide(ctx, pageVisit(c)).Accept)
	first := g.Decide(ctx, hb())
	require.True(t, first.Accept)
	require.Equal(t, MsgHeartbeat, first.Message)

	c.Advance(5 * time.Second)
	require.False(t, g.Decide(ctx, hb()).Accept)
	c.Advance(15 * time.Second)
	require.True(t, g.Decide(ctx, hb()).Accept)
}

func TestSessionEndNeverSuppressed(t *testing.T) {
	g, c := newGate(t)
	in := pageVisit(c)
	in.EventType = model.EventSessionEnd
	for i := 0; i < 3; i++ {
		d := g.Decide(context.Background(), in)
		require.True(t, d.Accept)
		require.Equal(t, MsgSessionEnd, d.Message)
	}
}

func TestInternalNavigation(t *testing.T) {
	g, c := newGate(t)
	ctx := context.Background()

	in := pageVisit(c)
	in.Referrer = "https://www.shop.example/home"
	d := g.Decide(ctx, in)
	require.False(t, d.Accept)
	require.False(t, d.Duplicate)
	require.Equal(t, MsgInternalNavigation, d.Message)

	in.IsNewSession = true
	d = g.Decide(ctx, in)
	require.True(t, d.Accept)
	require.Equal(t, MsgNewSession, d.Message)
}

func TestExternalReferrerMessage(t *testing.T) {
	g, c := newGate(t)
	in := pageVisit(c)
	in.Referrer = "https://news.example.org/story"
	d := g.Decide(context.Background(), in)
	require.True(t, d.Accept)
	require.Equal(t, MsgExternalReferrer, d.Message)
}

func TestUnknownTypesUseDefaultWindow(t *testing.T) {
	w := DefaultWindows()
	require.Equal(t, 2*time.Minute, w.For(model.EventCustom))
	require.Equal(t, time.Duration(0), w.For(model.EventSessionEnd))
}
