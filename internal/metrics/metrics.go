package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for an ingest run.
type Metrics struct {
	registry          *prometheus.Registry
	itemsArchived     prometheus.Counter
	itemsSkipped      prometheus.Counter
	itemsFailed       *prometheus.CounterVec
	retries           *prometheus.CounterVec
	playlistsResolved prometheus.Counter
	playlistsFailed   prometheus.Counter
	activeJobs        prometheus.Gauge
}

// New creates and registers the ingest metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	itemsArchived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_items_archived_total",
		Help: "Items that completed download, conversion and archiving",
	})
	itemsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_items_skipped_total",
		Help: "Items skipped because they were already archived",
	})
	itemsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_items_failed_total",
		Help: "Items that ended failed, by ledger reason",
	}, []string{"reason"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retries_total",
		Help: "Transient failures that were retried, by stage",
	}, []string{"stage"})
	playlistsResolved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_playlists_resolved_total",
		Help: "Playlists resolved successfully",
	})
	playlistsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_playlists_failed_total",
		Help: "Playlists whose resolution failed",
	})
	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active_jobs",
		Help: "Jobs currently held by a worker",
	})

	registry.MustRegister(
		itemsArchived,
		itemsSkipped,
		itemsFailed,
		retries,
		playlistsResolved,
		playlistsFailed,
		activeJobs,
	)

	return &Metrics{
		registry:          registry,
		itemsArchived:     itemsArchived,
		itemsSkipped:      itemsSkipped,
		itemsFailed:       itemsFailed,
		retries:           retries,
		playlistsResolved: playlistsResolved,
		playlistsFailed:   playlistsFailed,
		activeJobs:        activeJobs,
	}
}

func (m *Metrics) IncArchived() {
	m.itemsArchived.Inc()
}

func (m *Metrics) AddSkipped(n int) {
	m.itemsSkipped.Add(float64(n))
}

func (m *Metrics) IncFailed(reason string) {
	m.itemsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRetry(stage string) {
	m.retries.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncPlaylistResolved() {
	m.playlistsResolved.Inc()
}

func (m *Metrics) IncPlaylistFailed() {
	m.playlistsFailed.Inc()
}

func (m *Metrics) JobStarted() {
	m.activeJobs.Inc()
}

func (m *Metrics) JobFinished() {
	m.activeJobs.Dec()
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
