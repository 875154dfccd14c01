package tileview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tileRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_tile_requests_total",
		Help: "Number of tile pixel loads issued.",
	})
	tileResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileview_tile_results_total",
		Help: "Number of tile pixel loads completed, by outcome.",
	}, []string{"result"})
	normalizationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileview_normalization_cache_lookups_total",
		Help: "Normalized tile cache lookups, by hit or miss.",
	}, []string{"result"})
	normalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tileview_normalize_seconds",
		Help:    "Time spent normalizing one tile.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
