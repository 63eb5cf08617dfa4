// Package threat classifies an IP as VPN, proxy, Tor or hosting.
package threat

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"visitguard/internal/cache"
	"visitguard/internal/model"
	"visitguard/internal/race"
	"visitguard/internal/util"
)

var strategyResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "threat_strategy_results_total",
	Help: "Threat strategy outcomes",
}, []string{"strategy", "outcome"})

type Config struct {
	StrategyTimeout time.Duration
	Deadline        time.Duration
	SuccessTTL      time.Duration
	FailureTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		StrategyTimeout: 1500 * time.Millisecond,
		Deadline:        3 * time.Second,
		SuccessTTL:      30 * time.Minute,
		FailureTTL:      5 * time.Minute,
	}
}

var (
	// LocalResult is returned for private and loopback addresses.
	LocalResult = model.ThreatResult{Provider: "local"}
	// CleanResult is returned when no strategy produced an answer.
	CleanResult = model.ThreatResult{Provider: "none"}
)

// Resolver races the configured strategies for each address.
type Resolver struct {
	strategies []Strategy
	cache      cache.Cache
	cfg        Config
	log        *zap.Logger
}

func NewResolver(c cache.Cache, logger *zap.Logger, cfg Config, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{strategies: strategies, cache: c, cfg: cfg, log: logger.Named("threat")}
}

// Resolve never fails; a lookup that produced nothing yields CleanResult.
func (r *Resolver) Resolve(ctx context.Context, ip string, isp ISPSource) model.ThreatResult {
	switch util.ClassifyIP(ip) {
	case util.IPInvalid:
		return CleanResult
	case util.IPLocal:
		return LocalResult
	}
	ip = util.NormalizeIP(ip)

	var cached model.ThreatResult
	if r.cache.Get(ctx, cache.CategoryThreat, ip, &cached) {
		return cached
	}

	strategies := make([]race.Strategy[model.ThreatResult], 0, len(r.strategies))
	for _, s := range r.strategies {
		s := s
		strategies = append(strategies, race.Strategy[model.ThreatResult]{
			Name:    s.Name(),
			Timeout: r.cfg.StrategyTimeout,
			Run:     func(ctx context.Context) (model.ThreatResult, error) { return s.Check(ctx, ip, isp) },
		})
	}

	res, err := race.First(ctx, r.cfg.Deadline, nil, strategies...)
	for _, o := range res.Outcomes {
		outcome := "success"
		switch {
		case errors.Is(o.Err, ErrInconclusive):
			outcome = "inconclusive"
		case o.Err != nil && race.IsTimeout(o.Err):
			outcome = "timeout"
		case o.Err != nil:
			outcome = "error"
		}
		strategyResults.WithLabelValues(o.Name, outcome).Inc()
		if o.Err != nil && outcome != "inconclusive" {
			r.log.Debug("threat strategy failed",
				zap.String("strategy", o.Name),
				zap.String("ip", ip),
				zap.Duration("elapsed", o.Elapsed),
				zap.Error(o.Err))
		}
	}
	if err != nil {
		// Only a lookup that ran to its own deadline is cached as a failure.
		if ctx.Err() == nil {
			r.cache.Set(ctx, cache.CategoryThreat, ip, CleanResult, r.cfg.FailureTTL)
		}
		return CleanResult
	}
	r.cache.Set(ctx, cache.CategoryThreat, ip, res.Value, r.cfg.SuccessTTL)
	return res.Value
}
