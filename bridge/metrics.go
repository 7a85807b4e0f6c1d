package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/plotstream/errors"
	"github.com/c360/plotstream/metric"
)

// Metrics holds Prometheus metrics for the curve handler
type Metrics struct {
	batchesReceived    prometheus.Counter
	samplesAppended    prometheus.Counter
	paramsSkipped      prometheus.Counter
	filterUpdates      prometheus.Counter
	filterUpdateErrors prometheus.Counter
	filterSize         prometheus.Gauge
	handlerState       prometheus.Gauge
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers curve handler metrics
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	// Return nil if no registry provided (nil input = nil feature pattern)
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		batchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "batches_received_total",
			Help:      "Total introspection batches delivered",
		}),
		samplesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "samples_appended_total",
			Help:      "Total samples appended to curves",
		}),
		paramsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "params_skipped_total",
			Help:      "Parameters skipped as unresolvable or undecodable",
		}),
		filterUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "filter_updates_total",
			Help:      "Remote filter updates pushed",
		}),
		filterUpdateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "filter_update_errors_total",
			Help:      "Remote filter updates that failed",
		}),
		filterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "filter_size",
			Help:      "Items currently in the introspection filter",
		}),
		handlerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plotstream",
			Subsystem: "bridge",
			Name:      "handler_state",
			Help:      "Handler state (0=starting, 1=active, 2=inert, 3=stopped)",
		}),
	}

	registry.RegisterCounter("bridge", "batches_received", metrics.batchesReceived)
	registry.RegisterCounter("bridge", "samples_appended", metrics.samplesAppended)
	registry.RegisterCounter("bridge", "params_skipped", metrics.paramsSkipped)
	registry.RegisterCounter("bridge", "filter_updates", metrics.filterUpdates)
	registry.RegisterCounter("bridge", "filter_update_errors", metrics.filterUpdateErrors)
	registry.RegisterGauge("bridge", "filter_size", metrics.filterSize)
	registry.RegisterGauge("bridge", "handler_state", metrics.handlerState)

	metrics.errorsTotal = registry.Metrics.ErrorsTotal

	return metrics
}

func (m *Metrics) recordBatch() {
	if m == nil {
		return
	}
	m.batchesReceived.Inc()
}

func (m *Metrics) recordSamples(n int) {
	if m == nil {
		return
	}
	m.samplesAppended.Add(float64(n))
}

func (m *Metrics) recordSkipped() {
	if m == nil {
		return
	}
	m.paramsSkipped.Inc()
}

func (m *Metrics) recordFilterUpdate(err error) {
	if m == nil {
		return
	}
	m.filterUpdates.Inc()
	if err != nil {
		m.filterUpdateErrors.Inc()
		m.errorsTotal.WithLabelValues("bridge", errors.Classify(err).String()).Inc()
	}
}

func (m *Metrics) recordSetupError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errorsTotal.WithLabelValues("bridge", errors.Classify(err).String()).Inc()
}

func (m *Metrics) setFilterSize(n int) {
	if m == nil {
		return
	}
	m.filterSize.Set(float64(n))
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.handlerState.Set(float64(s))
}
