package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
node:
  device_id: node-12
  zone: greenhouse-a
pins:
  count: 40
  analog: [32, 33, 34]
  i2c_data: 21
  i2c_clock: 22
offload:
  url: http://processor.local/api/process
  timeout: 2s
  breaker:
    failure_threshold: 3
    reset_timeout: 45s
publish:
  broker: tcp://broker.local:1883
  topic_prefix: greenhouse
sensors:
  - pin: 32
    type: soil-moisture
    subzone: bed-1
    interval: 1m
  - pin: 4
    type: soil-temp
    address: AA11BB22CC33DD44
    mode: paused
`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "node-12", cfg.Node.DeviceID)
	require.Equal(t, 2*time.Second, cfg.Offload.Timeout.Duration)
	require.Equal(t, 3, cfg.Offload.Breaker.FailureThreshold)
	require.Equal(t, 45*time.Second, cfg.Offload.Breaker.ResetTimeout.Duration)

	require.Len(t, cfg.Sensors, 2)
	require.Equal(t, time.Minute, cfg.Sensors[0].Interval.Duration)
	require.Equal(t, ModeContinuous, cfg.Sensors[0].Mode)
	require.Equal(t, ModePaused, cfg.Sensors[1].Mode)
	require.Equal(t, "AA11BB22CC33DD44", cfg.Sensors[1].Address)
	require.True(t, cfg.Sensors[0].IsActive())
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
node:
  device_id: node-1
pins:
  i2c_data: 21
  i2c_clock: 22
offload:
  url: http://processor.local/process
`))
	require.NoError(t, err)
	require.Equal(t, defaultPinCount, cfg.Pins.Count)
	require.Equal(t, defaultOffloadTimeout, cfg.Offload.Timeout.Duration)
	require.Equal(t, defaultFailureThreshold, cfg.Offload.Breaker.FailureThreshold)
	require.Equal(t, defaultTick, cfg.Scheduler.Tick.Duration)
	require.Equal(t, defaultInterval, cfg.Scheduler.DefaultInterval.Duration)
}

func TestValidateRejectsMissingDeviceID(t *testing.T) {
	_, err := Parse([]byte(`
pins:
  i2c_data: 21
  i2c_clock: 22
offload:
  url: http://processor.local/process
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "device_id")
}

func TestValidateRejectsPinOutOfRange(t *testing.T) {
	_, err := Parse([]byte(`
node:
  device_id: node-1
pins:
  count: 10
  i2c_data: 8
  i2c_clock: 9
offload:
  url: http://processor.local/process
sensors:
  - pin: 99
    type: light
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	_, err := Parse([]byte(`
node:
  device_id: node-1
pins:
  i2c_data: 21
  i2c_clock: 22
offload:
  url: http://processor.local/process
sensors:
  - pin: 5
    type: light
    mode: turbo
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsSharedI2CPins(t *testing.T) {
	_, err := Parse([]byte(`
node:
  device_id: node-1
pins:
  i2c_data: 21
  i2c_clock: 21
offload:
  url: http://processor.local/process
`))
	require.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	require.Equal(t, "1m30s", out)
}
