package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"visitguard/internal/bot"
	"visitguard/internal/cache"
	"visitguard/internal/config"
	"visitguard/internal/dedup"
	"visitguard/internal/fraud"
	"visitguard/internal/geo"
	"visitguard/internal/httpx"
	"visitguard/internal/identity"
	ikafka "visitguard/internal/kafka"
	"visitguard/internal/logging"
	"visitguard/internal/model"
	"visitguard/internal/notify"
	"visitguard/internal/pipeline"
	"visitguard/internal/threat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New("ingest-api", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	local := cache.NewLocal(cache.WithMaxEntries(cfg.LocalCacheEntries))
	defer local.Close()

	var shared cache.Tier
	var notifier pipeline.Notifier = notify.Nop{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parse REDIS_URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		tier := cache.NewRedis(redisClient, cfg.RedisPrefix)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tier.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup, shared cache will retry", zap.Error(err))
		}
		cancel()
		shared = tier
		notifier = notify.NewRedis(redisClient, cfg.LiveChannelPrefix)
	} else {
		logger.Info("REDIS_URL not set, running with process-local cache only")
	}
	store := cache.NewStore(local, shared, logger)

	client := httpx.NewClient(cfg.LookupDeadline)
	providers := []geo.Provider{
		&geo.IPAPI{BaseURL: cfg.IPAPIURL, Client: client},
		&geo.IPWhois{BaseURL: cfg.IPWhoisURL, Client: client},
	}
	if cfg.IPInfoToken != "" {
		providers = append(providers, &geo.IPInfo{BaseURL: cfg.IPInfoURL, Token: cfg.IPInfoToken, Client: client})
	}
	geoCfg := geo.DefaultConfig()
	geoCfg.ProviderTimeout = cfg.ProviderTimeout
	geoCfg.Deadline = cfg.LookupDeadline
	locations := geo.NewResolver(store, logger, geoCfg, providers...)

	strategies := []threat.Strategy{threat.Heuristic{}}
	if cfg.ReputationKey != "" {
		strategies = append(strategies, &threat.Reputation{BaseURL: cfg.ReputationURL, APIKey: cfg.ReputationKey, Client: client})
	}
	threatCfg := threat.DefaultConfig()
	threatCfg.StrategyTimeout = cfg.ProviderTimeout
	threatCfg.Deadline = cfg.LookupDeadline
	threats := threat.NewResolver(store, logger, threatCfg, strategies...)

	windows := dedup.DefaultWindows()
	windows.ByType[model.EventPageVisit] = cfg.PageVisitWindow
	windows.ByType[model.EventHeartbeat] = cfg.HeartbeatWindow
	windows.Default = cfg.PageVisitWindow

	writer := ikafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicVisits)
	defer writer.Close()

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.EnrichTimeout = cfg.EnrichTimeout
	orchestrator := pipeline.New(pipeline.Deps{
		Sites:    cfg.Sites,
		Identity: identity.NewResolver(store, logger, identity.Config{SessionIdle: cfg.SessionIdle, MatchWindow: cfg.FingerprintWindow}),
		Dedup:    dedup.NewGate(store, windows),
		Location: locations,
		Threat:   threats,
		Bots:     bot.New(float64(cfg.BotMinLoadTimeMs)),
		Scorer:   fraud.NewScorer(fraud.DefaultWeights()),
		History:  fraud.NewHistory(store, cfg.SuspiciousHistoryTTL, fraud.DefaultHistoryCap),
		Recorder: ikafka.NewVisitPublisher(writer),
		Notifier: notifier,
		Logger:   logger,
	}, pipeCfg)

	gin.SetMode(gin.ReleaseMode)
	router, err := newRouter(&api{
		pipeline:       orchestrator,
		degraded:       store.Degraded,
		log:            logger,
		trustedProxies: cfg.TrustedProxies,
	},
		httpx.NewHTTPMetrics("ingest_api").Handler(),
		httpx.RequestLogger(logger),
		httpx.CORSMiddleware(cfg.CORSAllowOrigins),
	)
	if err != nil {
		logger.Fatal("router", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.IngestAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting ingest API", zap.String("addr", cfg.IngestAddr), zap.Int("sites", cfg.Sites.Len()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ingest server failed", zap.Error(err))
		}
	}()

	graceful(server, logger)
	orchestrator.Wait()
	store.Wait()
	logger.Info("ingest API stopped")
}

func graceful(server *http.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down ingest API")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
