// Package metrics defines the Prometheus instruments exported by leafsync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leafsync"

// Delivery paths.
const (
	PathLive     = "live"
	PathBackfill = "backfill"
)

// Metrics holds every instrument on its own registry, so tests can create
// as many instances as they need.
type Metrics struct {
	Registry *prometheus.Registry

	SamplesCollected  prometheus.Counter
	SamplesRejected   prometheus.Counter
	ReadingsStored    *prometheus.CounterVec
	ReadingsDelivered *prometheus.CounterVec
	TokenAcquisitions prometheus.Counter
	Failures          *prometheus.CounterVec
	PendingReadings   prometheus.Gauge
	ReconcileDuration prometheus.Histogram
}

// New creates the instruments and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		SamplesCollected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_collected_total",
			Help:      "Samples read from the sensor and handed to the pipeline.",
		}),
		SamplesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_rejected_total",
			Help:      "Samples dropped because the primary reading was not positive.",
		}),
		ReadingsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_stored_total",
			Help:      "Readings written to the local queue, by delivery state at insert.",
		}, []string{"state"}),
		ReadingsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_delivered_total",
			Help:      "Readings acknowledged by the collection service.",
		}, []string{"path"}),
		TokenAcquisitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_acquisitions_total",
			Help:      "Access tokens obtained from the collection service.",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Recoverable failures, by operation.",
		}, []string{"op"}),
		PendingReadings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_readings",
			Help:      "Undelivered readings seen at the start of the last reconciliation cycle.",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
