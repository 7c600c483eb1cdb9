package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_retrieved_total",
		Help: "no. of successful consuming reads",
	})
	// PasteGone splits refusals by reason. HTTP callers only ever see 404.
	PasteGone = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_paste_gone_total",
			Help: "no. of reads refused, by reason",
		},
		[]string{"reason"},
	)
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_id_collisions_total",
		Help: "no. of generated ids rejected by the store as duplicates",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_cache_hits_total",
			Help: "no. of cache hits",
		},
		[]string{"cache"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_cache_misses_total",
			Help: "no. of cache misses",
		},
		[]string{"cache"},
	)
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_store_errors_total",
			Help: "no. of failed store operations",
		},
		[]string{"op"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebox_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_sweep_cycles_total",
		Help: "no. of sweeper cycles",
	})
	SweepPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_sweep_purged_total",
		Help: "no. of dead pastes physically removed",
	})
	LogEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_log_events_total",
			Help: "no. of warn-or-worse log events",
		},
		[]string{"level"},
	)
)
