package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	UpdatesApplied   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookrecorder_updates_applied_total", Help: "Depth updates applied to the replica"})
	MalformedUpdates = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookrecorder_malformed_updates_total", Help: "Depth updates rejected by the reconciler"})
	Emissions        = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookrecorder_emissions_total", Help: "Ranked records handed to persistence"})
	Suppressed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookrecorder_suppressed_total", Help: "Timer firings skipped because top of book did not move"})
	ReplicaLevels    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "bookrecorder_replica_levels", Help: "Levels resting in the replica by side"}, []string{"side"})
	QueueDepth       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bookrecorder_persist_queue_depth", Help: "Records waiting for the persistence worker"})
	PersistedTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookrecorder_persisted_total", Help: "Records written by sink"}, []string{"sink"})
	PersistFailures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookrecorder_persist_failures_total", Help: "Records dropped after a sink error"}, []string{"sink"})
	PersistLatencyMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "bookrecorder_persist_latency_ms", Help: "Sink write latency", Buckets: prometheus.ExponentialBuckets(1, 2, 14)}, []string{"sink"})
	SnapshotLevels   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "bookrecorder_snapshot_levels", Help: "Levels received in the seeding snapshot by side"}, []string{"side"})
)

// Init registers every collector on a fresh registry
func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		UpdatesApplied, MalformedUpdates, Emissions, Suppressed,
		ReplicaLevels, QueueDepth, PersistedTotal, PersistFailures, PersistLatencyMs,
		SnapshotLevels,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn().Err(err).Msg("metric registration failed")
		}
	}
	logger.Debug().Msg("prometheus metrics initialized")
	return reg
}

// Handler serves the registry in the prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
