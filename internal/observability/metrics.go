// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "var_gold"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Market metrics
	TicksTotal          prometheus.Counter
	APIFailures         prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	SpreadOpen          prometheus.Gauge
	SpreadClose         prometheus.Gauge
	FetchLatency        prometheus.Histogram
	LastTickTimestamp   prometheus.Gauge

	// Lifecycle metrics
	AlertsSent  *prometheus.CounterVec
	Commands    *prometheus.CounterVec
	TickErrors  *prometheus.CounterVec
	PurgedRows  prometheus.Counter
	SinkDropped prometheus.Counter
	WSClients   prometheus.Gauge
}

// NewMetrics registers all metrics on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TicksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "ticks_total",
			Help:      "Total number of successful market snapshots",
		}),
		APIFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "api_failures_total",
			Help:      "Total number of failed market fetches",
		}),
		ConsecutiveFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "consecutive_api_failures",
			Help:      "Current streak of failed market fetches",
		}),
		SpreadOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "spread_open",
			Help:      "Latest spread_open (PAXG bid - XAUT ask)",
		}),
		SpreadClose: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "spread_close",
			Help:      "Latest spread_close (XAUT bid - PAXG ask)",
		}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "fetch_latency_seconds",
			Help:      "Market API latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		LastTickTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix timestamp of the latest successful snapshot",
		}),

		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "alerts_total",
			Help:      "Total number of alerts by type",
		}, []string{"alert_type"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telegram",
			Name:      "commands_total",
			Help:      "Total number of chat commands by command and result",
		}, []string{"command", "result"}),
		TickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_errors_total",
			Help:      "Total number of non-fatal errors inside a tick by stage",
		}, []string{"stage"}),
		PurgedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "purged_rows_total",
			Help:      "Total number of expired ticks and alerts removed",
		}),
		SinkDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "sink_write_errors_total",
			Help:      "Total number of failed time-series sink writes",
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "ws_clients",
			Help:      "Connected live stream clients",
		}),
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
