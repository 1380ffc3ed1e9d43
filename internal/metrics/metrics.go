// Package metrics defines the prometheus metrics exposed by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InferencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umekomi_inferences_total",
			Help: "Total number of inference requests processed",
		},
		[]string{"variant", "status"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "umekomi_inference_duration_seconds",
			Help:    "Time taken for one inference in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"variant"},
	)

	InflightInferences = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "umekomi_inflight_inferences",
			Help: "Current in-flight inference requests",
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "umekomi_embed_cache_hits_total",
			Help: "Embedding cache hits on the HTTP API",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "umekomi_embed_cache_misses_total",
			Help: "Embedding cache misses on the HTTP API",
		},
	)
)
