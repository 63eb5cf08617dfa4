package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
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

type stubProvider struct {
	name  string
	calls atomic.Int32
	delay time.Duration
	res   model.LocationResult
	err   error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Lookup(ctx context.Context, _ string) (model.LocationResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return model.LocationResult{}, ctx.Err()
		}
	}
	return s.res, s.err
}

func newStore(t *testing.T, c *clock) *cache.Store {
	t.Helper()
	local := cache.NewLocal(cache.WithClock(c.Now), cache.WithSweepInterval(0))
	t.Cleanup(local.Close)
	return cache.NewStore(local, nil, nil)
}

func testConfig() Config {
	return Config{
		ProviderTimeout: 200 * time.Millisecond,
		Deadline:        500 * time.Millisecond,
		SuccessTTL:      5 * time.Minute,
		FailureTTL:      time.Minute,
	}
}

func TestResolveIsCachedPerIP(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := &stubProvider{name: "stub", res: model.LocationResult{Country: "Germany", CountryCode: "DE", City: "Berlin", Accuracy: model.AccuracyHigh, Provider: "stub"}}
	r := NewResolver(newStore(t, c), nil, testConfig(), p)
	ctx := context.Background()

	first := r.Resolve(ctx, "8.8.8.8")
	second := r.Resolve(ctx, "8.8.8.8")
	require.Equal(t, first, second)
	require.Equal(t, "Germany", first.Country)
	require.EqualValues(t, 1, p.calls.Load())

	c.Advance(5 * time.Minute)
	r.Resolve(ctx, "8.8.8.8")
	require.EqualValues(t, 2, p.calls.Load())
}

func TestResolvePrivateAddressesNeverCallProviders(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := &stubProvider{name: "stub", res: model.LocationResult{Country: "Nowhere"}}
	r := NewResolver(newStore(t, c), nil, testConfig(), p)

	for _, ip := range []string{"10.0.0.1", "192.168.1.20", "127.0.0.1", "::1", "fe80::1", "100.64.3.2"} {
		got := r.Resolve(context.Background(), ip)
		require.Equal(t, LocalResult, got, ip)
	}
	require.Equal(t, UnknownResult, r.Resolve(context.Background(), "not-an-ip"))
	require.Equal(t, UnknownResult, r.Resolve(context.Background(), ""))
	require.Zero(t, p.calls.Load())
}

func TestResolveAllProvidersFail(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	failing := &stubProvider{name: "down", err: errors.New("connection refused")}
	slow := &stubProvider{name: "slow", delay: time.Second, res: model.LocationResult{Country: "Late"}}
	r := NewResolver(newStore(t, c), nil, testConfig(), failing, slow)
	ctx := context.Background()

	got := r.Resolve(ctx, "203.0.113.7")
	require.Equal(t, model.AccuracyNone, got.Accuracy)
	require.Zero(t, got.Lat)
	require.Zero(t, got.Lon)
	require.Equal(t, "Unknown", got.Country)

	r.Resolve(ctx, "203.0.113.7")
	require.EqualValues(t, 1, failing.calls.Load())

	c.Advance(time.Minute)
	r.Resolve(ctx, "203.0.113.7")
	require.EqualValues(t, 2, failing.calls.Load())
}

func TestResolveCancelledCallerIsNotCached(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := &stubProvider{name: "stub", delay: 20 * time.Millisecond, res: model.LocationResult{Country: "Japan", Provider: "stub"}}
	r := NewResolver(newStore(t, c), nil, testConfig(), p)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, UnknownResult, r.Resolve(cancelled, "198.51.100.20"))

	got := r.Resolve(context.Background(), "198.51.100.20")
	require.Equal(t, "Japan", got.Country)
}

func TestResolveFastestAcceptableWins(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	empty := &stubProvider{name: "empty", res: model.LocationResult{}}
	slower := &stubProvider{name: "slower", delay: 30 * time.Millisecond, res: model.LocationResult{Country: "France", Provider: "slower"}}
	r := NewResolver(newStore(t, c), nil, testConfig(), empty, slower)

	got := r.Resolve(context.Background(), "198.51.100.4")
	require.Equal(t, "France", got.Country)
	require.Equal(t, "slower", got.Provider)
}

func TestHTTPProvidersDecode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json/1.2.3.4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","country":"Australia","countryCode":"AU","regionName":"Queensland","city":"Brisbane","lat":-27.47,"lon":153.02,"timezone":"Australia/Brisbane","isp":"APNIC"}`))
	})
	mux.HandleFunc("/1.2.3.4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"country":"Australia","country_code":"AU","region":"Queensland","city":"Brisbane","latitude":-27.47,"longitude":153.02,"timezone":{"id":"Australia/Brisbane"},"connection":{"isp":"APNIC"}}`))
	})
	mux.HandleFunc("/1.2.3.4/json", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"country":"AU","region":"Queensland","city":"Brisbane","loc":"-27.47,153.02","org":"AS4608 APNIC","timezone":"Australia/Brisbane"}`))
	})
	mux.HandleFunc("/json/5.6.7.8", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	ctx := context.Background()

	ipapi := &IPAPI{BaseURL: srv.URL, Client: srv.Client()}
	got, err := ipapi.Lookup(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, "Brisbane", got.City)
	require.Equal(t, model.AccuracyHigh, got.Accuracy)

	_, err = ipapi.Lookup(ctx, "5.6.7.8")
	require.Error(t, err)

	whois := &IPWhois{BaseURL: srv.URL, Client: srv.Client()}
	got, err = whois.Lookup(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, "Australia/Brisbane", got.Timezone)
	require.Equal(t, "APNIC", got.ISP)
	require.Equal(t, model.AccuracyMedium, got.Accuracy)

	info := &IPInfo{BaseURL: srv.URL, Token: "secret", Client: srv.Client()}
	got, err = info.Lookup(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.InDelta(t, -27.47, got.Lat, 0.001)
	require.InDelta(t, 153.02, got.Lon, 0.001)
	require.Equal(t, "APNIC", got.ISP)
}
