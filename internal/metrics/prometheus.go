// Package metrics exposes the download pipeline counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meta-pipeline/internal/domain"
)

const namespace = "metapipe"

// Prometheus implements downloader.Metrics.
type Prometheus struct {
	tasksTotal       *prometheus.CounterVec
	downloadsTotal   *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	inFlight         *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg. It panics when a
// collector with the same name is already registered.
func New(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Download tasks received by the scheduler, by outcome (ok|skip).",
			},
			[]string{"type", "pipeline", "force", "outcome"},
		),
		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Download tasks handled by executors, by outcome (ok|skip|fail|retry).",
			},
			[]string{"type", "pipeline", "force", "outcome"},
		),
		downloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Time spent in the downloader.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type", "pipeline", "outcome"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "downloads_in_flight",
				Help:      "Downloads currently running.",
			},
			[]string{"type", "pipeline"},
		),
	}

	reg.MustRegister(m.tasksTotal, m.downloadsTotal, m.downloadDuration, m.inFlight)
	return m
}

func (m *Prometheus) TaskScheduled(entityType string, pipeline domain.Pipeline, force bool, outcome string) {
	m.tasksTotal.WithLabelValues(entityType, string(pipeline), strconv.FormatBool(force), outcome).Inc()
}

func (m *Prometheus) DownloadSkipped(entityType string, pipeline domain.Pipeline, force bool) {
	m.downloadsTotal.WithLabelValues(entityType, string(pipeline), strconv.FormatBool(force), "skip").Inc()
}

func (m *Prometheus) DownloadStarted(entityType string, pipeline domain.Pipeline) {
	m.inFlight.WithLabelValues(entityType, string(pipeline)).Inc()
}

func (m *Prometheus) DownloadFinished(entityType string, pipeline domain.Pipeline, force bool, outcome string, elapsed time.Duration) {
	m.inFlight.WithLabelValues(entityType, string(pipeline)).Dec()
	m.downloadsTotal.WithLabelValues(entityType, string(pipeline), strconv.FormatBool(force), outcome).Inc()
	m.downloadDuration.WithLabelValues(entityType, string(pipeline), outcome).Observe(elapsed.Seconds())
}
