// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers (and tests) can coexist
// in one process.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	AuthRejectionsTotal        *prometheus.CounterVec
	ExchangesTotal             prometheus.Counter
	RegistrationsTotal         *prometheus.CounterVec
	RecoveriesTotal            *prometheus.CounterVec
}

// New creates and registers every collector, including Go runtime and process stats.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memgate_http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_auth_rejections_total",
				Help: "Requests rejected by the trust gate, by reason.",
			},
			[]string{"reason"},
		),
		ExchangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memgate_exchanges_total",
			Help: "Device credentials issued by successful exchanges.",
		}),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_registrations_total",
				Help: "Owner registration attempts.",
			},
			[]string{"result"},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_recoveries_total",
				Help: "Behavioral recovery and passphrase reset outcomes.",
			},
			[]string{"flow", "result"},
		),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.AuthRejectionsTotal,
		m.ExchangesTotal,
		m.RegistrationsTotal,
		m.RecoveriesTotal,
	)
	return m
}

// Reject counts one rejection.
func (m *Metrics) Reject(reason string) {
	m.AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
