package threat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"visitguard/internal/cache"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	local := cache.NewLocal(cache.WithSweepInterval(0))
	t.Cleanup(local.Close)
	return cache.NewStore(local, nil, nil)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StrategyTimeout = 200 * time.Millisecond
	cfg.Deadline = 500 * time.Millisecond
	return cfg
}

func TestHeuristicFlagsVPNWhenReputationUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	rep := &Reputation{BaseURL: srv.URL, APIKey: "k", Client: &http.Client{Timeout: time.Second}}
	r := NewResolver(newStore(t), nil, testConfig(), rep, Heuristic{})

	got := r.Resolve(context.Background(), "203.0.113.50", StaticISP("NordVPN Services"))
	require.True(t, got.IsVPN)
	require.False(t, got.IsTor)
	require.Equal(t, "heuristic", got.Provider)
}

func TestReputationBlockFlagsVPNAndProxy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "secret", r.Header.Get("X-Key"))
		switch r.URL.Path {
		case "/ip/198.51.100.1":
			_, _ = w.Write([]byte(`{"ip":"198.51.100.1","block":1,"isp":"Some Proxy"}`))
		default:
			_, _ = w.Write([]byte(`{"block":0}`))
		}
	}))
	defer srv.Close()

	rep := &Reputation{BaseURL: srv.URL, APIKey: "secret", Client: srv.Client()}
	r := NewResolver(newStore(t), nil, testConfig(), rep)
	ctx := context.Background()

	got := r.Resolve(ctx, "198.51.100.1", nil)
	require.True(t, got.IsVPN)
	require.True(t, got.IsProxy)
	require.Equal(t, "reputation", got.Provider)

	clean := r.Resolve(ctx, "198.51.100.2", nil)
	require.False(t, clean.Flagged())
	require.Equal(t, "reputation", clean.Provider)

	r.Resolve(ctx, "198.51.100.1", nil)
	require.EqualValues(t, 2, calls.Load())
}

func TestCancelledCallerIsNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"block":1}`))
	}))
	defer srv.Close()

	rep := &Reputation{BaseURL: srv.URL, APIKey: "k", Client: srv.Client()}
	r := NewResolver(newStore(t), nil, testConfig(), rep)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, CleanResult, r.Resolve(cancelled, "198.51.100.30", nil))

	got := r.Resolve(context.Background(), "198.51.100.30", nil)
	require.True(t, got.IsVPN)
	require.Equal(t, "reputation", got.Provider)
}

func TestHeuristicCleanISPIsInconclusive(t *testing.T) {
	_, err := Heuristic{}.Check(context.Background(), "203.0.113.9", StaticISP("Deutsche Telekom AG"))
	require.ErrorIs(t, err, ErrInconclusive)

	r := NewResolver(newStore(t), nil, testConfig(), Heuristic{})
	got := r.Resolve(context.Background(), "203.0.113.9", StaticISP("Deutsche Telekom AG"))
	require.Equal(t, CleanResult, got)
}

func TestHeuristicDatacenterRange(t *testing.T) {
	got, err := Heuristic{}.Check(context.Background(), "159.65.10.10", StaticISP(""))
	require.NoError(t, err)
	require.True(t, got.IsHosting)

	got, err = Heuristic{}.Check(context.Background(), "159.65.10.10", func(context.Context) (string, error) {
		return "", errors.New("location unavailable")
	})
	require.NoError(t, err)
	require.True(t, got.IsHosting)
}

func TestClassifyISP(t *testing.T) {
	require.True(t, ClassifyISP("Tor Exit Node Operator").IsTor)
	require.True(t, ClassifyISP("DigitalOcean, LLC").IsHosting)
	require.True(t, ClassifyISP("Anonymizer Inc").IsProxy)
	require.False(t, ClassifyISP("Victoria Telecom").IsTor)
	require.False(t, ClassifyISP("").Flagged())
}

func TestPrivateAddressShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"block":1}`))
	}))
	defer srv.Close()

	r := NewResolver(newStore(t), nil, testConfig(), &Reputation{BaseURL: srv.URL, APIKey: "k", Client: srv.Client()})
	require.Equal(t, LocalResult, r.Resolve(context.Background(), "192.168.0.4", nil))
	require.Equal(t, CleanResult, r.Resolve(context.Background(), "garbage", nil))
	require.Zero(t, calls.Load())
}
