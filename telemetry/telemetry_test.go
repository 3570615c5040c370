package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	c := Noop()
	c.IncMeasurement("moisture", ResultOK)
	c.IncOffload(ResultOffloadError)
	c.SetBreakerState("open")
	c.IncPublishError()
	c.ObserveIteration(0.5)
}

func TestPrometheusCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	c.IncMeasurement("moisture", ResultOK)
	c.IncOffload(ResultOK)
	c.SetBreakerState("open")
	c.IncPublishError()
	c.ObserveIteration(0.02)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	require.True(t, names["fieldnode_measurements_total"])
	require.True(t, names["fieldnode_offload_requests_total"])
	require.True(t, names["fieldnode_offload_breaker_state"])
	require.True(t, names["fieldnode_publish_errors_total"])
	require.True(t, names["fieldnode_iteration_duration_seconds"])
}

func TestPrometheusCollectorReusesExistingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	first.IncOffload(ResultOK)
	second.IncOffload(ResultOK)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == "fieldnode_offload_requests_total" {
			require.Len(t, fam.GetMetric(), 1)
			require.Equal(t, 2.0, fam.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
