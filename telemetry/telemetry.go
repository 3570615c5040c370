package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the measurement pipeline.
//
// Implementations should be inexpensive to call because hooks are executed
// inline with the scheduler loop.
type Collector interface {
	IncMeasurement(sensorType, result string)
	IncOffload(result string)
	SetBreakerState(state string)
	IncPublishError()
	ObserveIteration(seconds float64)
}

// Measurement and offload result labels.
const (
	ResultOK             = "ok"
	ResultInterfaceError = "interface_error"
	ResultOffloadError   = "offload_error"
	ResultCircuitOpen    = "circuit_open"
)

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncMeasurement(string, string) {}
func (noopCollector) IncOffload(string)             {}
func (noopCollector) SetBreakerState(string)        {}
func (noopCollector) IncPublishError()              {}
func (noopCollector) ObserveIteration(float64)      {}

// PrometheusCollector exposes measurement telemetry via Prometheus.
type PrometheusCollector struct {
	measurements      *prometheus.CounterVec
	offloads          *prometheus.CounterVec
	breakerState      prometheus.Gauge
	publishErrors     prometheus.Counter
	iterationDuration prometheus.Gauge
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics already registered by an earlier instance are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	measurements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnode_measurements_total",
		Help: "Number of sensor measurements performed, by sensor type and result.",
	}, []string{"sensor_type", "result"})
	if err := register(reg, &measurements); err != nil {
		return nil, err
	}

	offloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnode_offload_requests_total",
		Help: "Number of remote offload attempts, by result.",
	}, []string{"result"})
	if err := register(reg, &offloads); err != nil {
		return nil, err
	}

	breakerState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldnode_offload_breaker_state",
		Help: "Circuit breaker state of the offload endpoint (0 closed, 1 half-open, 2 open).",
	})
	if err := register(reg, &breakerState); err != nil {
		return nil, err
	}

	publishErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldnode_publish_errors_total",
		Help: "Number of failed reading publish attempts.",
	})
	if err := register(reg, &publishErrors); err != nil {
		return nil, err
	}

	iterationDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldnode_iteration_duration_seconds",
		Help: "Duration of the last scheduler iteration.",
	})
	if err := register(reg, &iterationDuration); err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		measurements:      measurements,
		offloads:          offloads,
		breakerState:      breakerState,
		publishErrors:     publishErrors,
		iterationDuration: iterationDuration,
	}, nil
}

// register adds a collector to the registerer, adopting an existing collector
// of the same identity when one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, collector *C) error {
	if err := reg.Register(*collector); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return err
		}
		*collector = existing
	}
	return nil
}

// IncMeasurement counts one measurement outcome.
func (p *PrometheusCollector) IncMeasurement(sensorType, result string) {
	if p == nil || p.measurements == nil {
		return
	}
	p.measurements.WithLabelValues(sensorType, result).Inc()
}

// IncOffload counts one offload attempt outcome.
func (p *PrometheusCollector) IncOffload(result string) {
	if p == nil || p.offloads == nil {
		return
	}
	p.offloads.WithLabelValues(result).Inc()
}

// SetBreakerState updates the breaker state gauge.
func (p *PrometheusCollector) SetBreakerState(state string) {
	if p == nil || p.breakerState == nil {
		return
	}
	var value float64
	switch state {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	p.breakerState.Set(value)
}

// IncPublishError counts one failed publish attempt.
func (p *PrometheusCollector) IncPublishError() {
	if p == nil || p.publishErrors == nil {
		return
	}
	p.publishErrors.Inc()
}

// ObserveIteration records the duration of the last scheduler iteration.
func (p *PrometheusCollector) ObserveIteration(seconds float64) {
	if p == nil || p.iterationDuration == nil {
		return
	}
	p.iterationDuration.Set(seconds)
}
