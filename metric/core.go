package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by all services
type Metrics struct {
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "plotstream",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "Whether the NATS connection is established (0 or 1)",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "plotstream",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plotstream",
				Subsystem: "platform",
				Name:      "errors_total",
				Help:      "Total errors by service and class",
			},
			[]string{"service", "class"},
		),
	}
}
