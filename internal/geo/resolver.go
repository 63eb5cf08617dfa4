// Package geo resolves an IP address to a location by racing upstream providers.
package geo

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"visitguard/internal/cache"
	"visitguard/internal/model"
	"visitguard/internal/race"
	"visitguard/internal/util"
)

var providerResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "location_provider_results_total",
	Help: "Location provider outcomes",
}, []string{"provider", "outcome"})

// Config bounds provider calls and controls cache lifetimes.
type Config struct {
	ProviderTimeout time.Duration
	Deadline        time.Duration
	SuccessTTL      time.Duration
	FailureTTL      time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 1500 * time.Millisecond,
		Deadline:        3 * time.Second,
		SuccessTTL:      5 * time.Minute,
		FailureTTL:      time.Minute,
	}
}

// LocalResult is returned for private and loopback addresses.
var LocalResult = model.LocationResult{
	Country:     "Local",
	CountryCode: "LO",
	Region:      "Local",
	City:        "Local",
	Timezone:    "UTC",
	ISP:         "Local Network",
	Accuracy:    model.AccuracyLow,
	Provider:    "local",
}

// UnknownResult is returned when no provider answered.
var UnknownResult = model.LocationResult{
	Country:     "Unknown",
	CountryCode: "XX",
	Region:      "Unknown",
	City:        "Unknown",
	Timezone:    "UTC",
	ISP:         "Unknown",
	Accuracy:    model.AccuracyNone,
	Provider:    "none",
}

// Resolver resolves IPs through the cache and a provider race.
type Resolver struct {
	providers []Provider
	cache     cache.Cache
	cfg       Config
	log       *zap.Logger
}

// NewResolver builds a resolver. Providers race in no particular order.
func NewResolver(c cache.Cache, logger *zap.Logger, cfg Config, providers ...Provider) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{providers: providers, cache: c, cfg: cfg, log: logger.Named("geo")}
}

// Resolve always returns a fully populated result.
func (r *Resolver) Resolve(ctx context.Context, ip string) model.LocationResult {
	switch util.ClassifyIP(ip) {
	case util.IPInvalid:
		return UnknownResult
	case util.IPLocal:
		return LocalResult
	}
	ip = util.NormalizeIP(ip)

	var cached model.LocationResult
	if r.cache.Get(ctx, cache.CategoryLocation, ip, &cached) {
		return cached
	}

	strategies := make([]race.Strategy[model.LocationResult], 0, len(r.providers))
	for _, p := range r.providers {
		p := p
		strategies = append(strategies, race.Strategy[model.LocationResult]{
			Name:    p.Name(),
			Timeout: r.cfg.ProviderTimeout,
			Run:     func(ctx context.Context) (model.LocationResult, error) { return p.Lookup(ctx, ip) },
		})
	}

	res, err := race.First(ctx, r.cfg.Deadline, hasCountry, strategies...)
	r.observe(ip, res.Outcomes)
	if err != nil {
		r.log.Debug("location lookup failed", zap.String("ip", ip), zap.Error(err))
		if ctx.Err() == nil {
			r.cache.Set(ctx, cache.CategoryLocation, ip, UnknownResult, r.cfg.FailureTTL)
		}
		return UnknownResult
	}
	r.cache.Set(ctx, cache.CategoryLocation, ip, res.Value, r.cfg.SuccessTTL)
	return res.Value
}

func hasCountry(l model.LocationResult) bool {
	return l.Country != ""
}

func (r *Resolver) observe(ip string, outcomes []race.Outcome) {
	for _, o := range outcomes {
		outcome := "success"
		switch {
		case o.Err != nil && race.IsTimeout(o.Err):
			outcome = "timeout"
		case o.Err != nil:
			outcome = "error"
		case !o.Accepted:
			outcome = "empty"
		}
		providerResults.WithLabelValues(o.Name, outcome).Inc()
		if o.Err != nil {
			r.log.Debug("location provider failed",
				zap.String("provider", o.Name),
				zap.String("ip", ip),
				zap.String("outcome", outcome),
				zap.Duration("elapsed", o.Elapsed),
				zap.Error(o.Err))
		}
	}
}
