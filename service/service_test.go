package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/verdanterra/fieldnode/breaker"
	"github.com/verdanterra/fieldnode/config"
	"github.com/verdanterra/fieldnode/remote"
)

const sampleConfig = `
node:
  device_id: node-12
  zone: greenhouse-a
  firmware: 2.4.1
pins:
  count: 40
  analog: [32, 33, 34]
  i2c_data: 21
  i2c_clock: 22
offload:
  url: http://processor.local/process
sensors:
  - pin: 32
    type: soil-moisture
    subzone: bed-1
`

type fakeTransport struct {
	closed bool
}

func (f *fakeTransport) Request(_ context.Context, payload []byte) ([]byte, error) {
	var req remote.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	processed := req.RawValue / 2
	return json.Marshal(remote.Response{ProcessedValue: &processed, Unit: "%", Quality: "good", Timestamp: req.Timestamp})
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

type fakeAnalog struct{}

func (fakeAnalog) ReadAnalog(int) (float64, error) { return 1800, nil }

type fakePublisher struct {
	topics []string
}

func (f *fakePublisher) Publish(topic string, _ []byte, _ byte) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeStore struct {
	values map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{values: map[string]string{}} }

func (f *fakeStore) Load(ns, key string) (string, bool) {
	value, ok := f.values[ns+"/"+key]
	return value, ok
}

func (f *fakeStore) Save(ns, key, value string) error {
	f.values[ns+"/"+key] = value
	return nil
}

func (f *fakeStore) Delete(ns, key string) error {
	delete(f.values, ns+"/"+key)
	return nil
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)
	return cfg
}

func TestNewRejectsNilInputs(t *testing.T) {
	_, err := New(nil, Dependencies{Transport: &fakeTransport{}}, zerolog.Nop())
	require.Error(t, err)

	_, err = New(loadConfig(t), Dependencies{}, zerolog.Nop())
	require.Error(t, err)
}

func TestServiceComposesAndMeasures(t *testing.T) {
	publisher := &fakePublisher{}
	svc, err := New(loadConfig(t), Dependencies{
		Analog:    fakeAnalog{},
		Transport: &fakeTransport{},
		Publisher: publisher,
	}, zerolog.Nop())
	require.NoError(t, err)

	states := svc.SensorStates()
	require.Len(t, states, 1)
	require.Equal(t, 32, states[0].Pin)
	require.Equal(t, "soil-moisture", states[0].Type)

	readings, err := svc.TriggerManualMeasurement(context.Background(), 32)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.True(t, readings[0].Valid)
	require.Equal(t, 900.0, readings[0].Processed)
	require.Len(t, publisher.topics, 1)

	require.Equal(t, breaker.Closed, svc.BreakerState())
}

func TestServiceRejectsBadBootSensor(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Sensors = append(cfg.Sensors, config.SensorConfig{Pin: 5, Type: "soil-moisture", Mode: config.ModeContinuous})
	_, err := New(cfg, Dependencies{
		Analog:    fakeAnalog{},
		Transport: &fakeTransport{},
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestServiceRestoresPersistedSensors(t *testing.T) {
	store := newFakeStore()
	deps := Dependencies{Analog: fakeAnalog{}, Transport: &fakeTransport{}, Store: store}

	svc, err := New(loadConfig(t), deps, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.ConfigureSensor(config.SensorConfig{Pin: 33, Type: "light", Mode: config.ModeContinuous}))

	cfg := loadConfig(t)
	cfg.Sensors = nil
	restoredSvc, err := New(cfg, deps, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, restoredSvc.SensorStates(), 2)
}

func TestServiceRuntimeCommands(t *testing.T) {
	svc, err := New(loadConfig(t), Dependencies{
		Analog:    fakeAnalog{},
		Transport: &fakeTransport{},
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, svc.ConfigureSensor(config.SensorConfig{Pin: 33, Type: "light", Mode: config.ModeContinuous}))
	require.NoError(t, svc.SetMeasurementInterval(33, 0))
	require.NoError(t, svc.RemoveSensor(33))
	require.Error(t, svc.RemoveSensor(33))
}

func TestCloseReleasesOwnedDependencies(t *testing.T) {
	transport := &fakeTransport{}
	svc, err := New(loadConfig(t), Dependencies{
		Analog:    fakeAnalog{},
		Transport: transport,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.True(t, transport.closed)
}
