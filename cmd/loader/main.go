package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"visitguard/internal/ch"
	"visitguard/internal/config"
	ikafka "visitguard/internal/kafka"
	"visitguard/internal/logging"
	"visitguard/internal/model"
	"visitguard/pkg/batcher"
)

var (
	batchSizeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_batch_size",
		Help:    "Histogram of ClickHouse batch sizes",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
	})
	insertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_insert_duration_seconds",
		Help:    "Duration of ClickHouse insert operations",
		Buckets: prometheus.DefBuckets,
	})
	insertErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_insert_errors_total",
		Help: "Total ClickHouse insert failures",
	})
	decodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_decode_errors_total",
		Help: "Messages on the visits topic that could not be decoded",
	})
)

// batchInserter is the part of the ClickHouse client the loader writes through.
type batchInserter interface {
	InsertBatch(ctx context.Context, visits []model.Visit) error
}

type retryPolicy struct {
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	timeout    time.Duration
}

var defaultRetry = retryPolicy{attempts: 5, backoff: 200 * time.Millisecond, maxBackoff: 5 * time.Second, timeout: 30 * time.Second}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New("loader", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := ch.New(ctx, cfg.ClickHouseDSN)
	if err != nil {
		logger.Fatal("clickhouse", zap.Error(err))
	}
	defer client.Close()
	if err := client.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	reader := ikafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicVisits, cfg.KafkaGroupID)
	defer reader.Close()

	// The final flush on Close runs after ctx is cancelled.
	flushCtx := context.WithoutCancel(ctx)
	flusher := func(visits []model.Visit) error {
		return insertWithRetry(flushCtx, client, visits, defaultRetry)
	}
	b := batcher.New[model.Visit](cfg.BatchSize, cfg.BatchInterval, flusher,
		batcher.WithErrorHandler(func(err error, batch []model.Visit) {
			logger.Error("batch dropped", zap.Int("visits", len(batch)), zap.Error(err))
		}))
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("final flush failed", zap.Error(err))
		}
	}()

	go serveMetrics(cfg.LoaderMetricsAddr, client, logger)
	go handleSignals(cancel)

	logger.Info("loader consuming", zap.String("topic", cfg.KafkaTopicVisits), zap.String("group", cfg.KafkaGroupID))
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("read visit message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		v, err := ikafka.DecodeVisit(m)
		if err != nil {
			decodeErrors.Inc()
			logger.Warn("skip undecodable visit", zap.Error(err))
			continue
		}
		if err := b.Add(v); err != nil {
			logger.Error("batch add failed", zap.Error(err))
		}
	}
	logger.Info("loader shutdown complete")
}

func insertWithRetry(ctx context.Context, client batchInserter, visits []model.Visit, p retryPolicy) error {
	backoff := p.backoff
	start := time.Now()
	for attempt := 1; attempt <= p.attempts; attempt++ {
		insertCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := client.InsertBatch(insertCtx, visits)
		cancel()
		if err == nil {
			insertDuration.Observe(time.Since(start).Seconds())
			batchSizeHistogram.Observe(float64(len(visits)))
			return nil
		}
		insertErrors.Inc()
		if attempt == p.attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func serveMetrics(addr string, db pinger, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("loader metrics server failed", zap.Error(err))
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}
