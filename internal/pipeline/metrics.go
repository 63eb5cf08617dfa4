package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trackedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_total",
		Help: "Track calls by outcome",
	}, []string{"outcome"})
	enrichDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_enrich_duration_seconds",
		Help:    "Time spent enriching and publishing an accepted visit",
		Buckets: prometheus.DefBuckets,
	})
	storageWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_storage_writes_total",
		Help: "Storage write requests by result",
	}, []string{"result"})
	fraudScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_fraud_score",
		Help:    "Distribution of fraud scores on accepted visits",
		Buckets: []float64{0, 10, 25, 50, 75, 90, 100},
	})
	inFlightEnrichments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_enrich_in_flight",
		Help: "Accepted visits still being enriched",
	})
)
