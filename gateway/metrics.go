package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records ledger and upload activity on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ledgerCalls   *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec

	uploads       *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	uploadLatency prometheus.Histogram
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ledgerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_calls_total",
				Help:      "Ledger calls by operation and result",
			},
			[]string{"op", "result"},
		),
		ledgerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_call_seconds",
				Help:      "Ledger call latency, including confirmation for mutations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Attachment uploads by result",
			},
			[]string{"result"},
		),
		uploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Bytes of attachments successfully pinned",
			},
		),
		uploadLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_seconds",
				Help:      "Attachment upload latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	m.registry.MustRegister(
		m.ledgerCalls,
		m.ledgerLatency,
		m.uploads,
		m.uploadBytes,
		m.uploadLatency,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeLedger(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(op, result(err)).Inc()
	m.ledgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeUpload(start time.Time, size int64, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(err)).Inc()
	m.uploadLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		m.uploadBytes.Add(float64(size))
	}
}
