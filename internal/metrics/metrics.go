// Package metrics exposes Prometheus counters for sync runs and cache
// behavior.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wvfoia/wvfoia/internal/model"
)

// Metrics holds the application's Prometheus registry and counters. It
// implements both the sync engine's Recorder and the cache Observer.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns    *prometheus.CounterVec
	syncAdded   prometheus.Counter
	syncChecked prometheus.Counter
	cacheOps    *prometheus.CounterVec
}

// New creates an isolated registry with process and Go collectors plus the
// application counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wvfoia_sync_runs_total",
			Help: "Sync runs by outcome.",
		}, []string{"outcome"}),
		syncAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "wvfoia_sync_entries_added_total",
			Help: "Entries added across all sync runs.",
		}),
		syncChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "wvfoia_sync_ids_checked_total",
			Help: "Upstream ids checked across all sync runs.",
		}),
		cacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wvfoia_cache_requests_total",
			Help: "Cache lookups by scope and result.",
		}, []string{"scope", "result"}),
	}
}

// RecordSyncRun records one run's outcome.
func (m *Metrics) RecordSyncRun(result model.SyncResult, err error) {
	outcome := "complete"
	if err != nil {
		outcome = "failed"
	}
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncAdded.Add(float64(result.Added))
	m.syncChecked.Add(float64(result.Checked))
}

// CacheHit implements cache.Observer.
func (m *Metrics) CacheHit(scope string) {
	m.cacheOps.WithLabelValues(scope, "hit").Inc()
}

// CacheMiss implements cache.Observer.
func (m *Metrics) CacheMiss(scope string) {
	m.cacheOps.WithLabelValues(scope, "miss").Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
