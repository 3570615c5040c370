package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdanterra/fieldnode/breaker"
	"github.com/verdanterra/fieldnode/config"
	"github.com/verdanterra/fieldnode/hw"
	"github.com/verdanterra/fieldnode/remote"
	"github.com/verdanterra/fieldnode/scheduler"
	"github.com/verdanterra/fieldnode/sensors"
	"github.com/verdanterra/fieldnode/telemetry"
)

// Dependencies carries the hardware lines and external collaborators the
// service is composed from. Lines that the board does not provide may be
// nil; sensors requiring a missing line fail arbitration instead of boot.
type Dependencies struct {
	Analog    hw.AnalogLine
	Digital   hw.DigitalLine
	OneWire   hw.OneWireLine
	Bus       hw.BusLine
	Transport remote.Transport
	Publisher scheduler.Publisher
	Store     sensors.Store
	Telemetry telemetry.Collector
}

// Service wires pin arbitration, sensor registry, offload client and the
// measurement scheduler into one runnable node.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	pins      *hw.PinRegistry
	onewire   *hw.OneWireCoordinator
	i2c       *hw.I2CCoordinator
	breaker   *breaker.Breaker
	offload   *remote.OffloadClient
	registry  *sensors.Registry
	scheduler *scheduler.Scheduler

	telemetry telemetry.Collector
	closers   []io.Closer
}

// New builds a service from configuration and dependencies.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if deps.Transport == nil {
		return nil, errors.New("offload transport must not be nil")
	}
	collector := deps.Telemetry
	if collector == nil {
		collector = telemetry.Noop()
	}

	svc := &Service{cfg: cfg, logger: logger, telemetry: collector}
	svc.pins = hw.NewPinRegistry(cfg.Pins.Count, cfg.Pins.Analog)

	if deps.Bus != nil {
		i2c, err := hw.NewI2CCoordinator(svc.pins, deps.Bus, cfg.Pins.I2CData, cfg.Pins.I2CClock, logger)
		if err != nil {
			return nil, fmt.Errorf("bring up i2c bus: %w", err)
		}
		svc.i2c = i2c
	}
	if deps.OneWire != nil {
		svc.onewire = hw.NewOneWireCoordinator(svc.pins, deps.OneWire, logger)
	}

	svc.breaker = breaker.New(
		cfg.Offload.Breaker.FailureThreshold,
		cfg.Offload.Breaker.ResetTimeout.Duration,
		breaker.WithStateChange(func(state breaker.State) {
			collector.SetBreakerState(state.String())
			logger.Warn().Str("state", state.String()).Msg("offload breaker state changed")
		}),
	)

	identity := remote.Identity{
		DeviceID: cfg.Node.DeviceID,
		Zone:     cfg.Node.Zone,
		Firmware: cfg.Node.Firmware,
	}
	svc.offload = remote.NewOffloadClient(deps.Transport, svc.breaker, identity, logger)

	svc.registry = sensors.NewRegistry(sensors.Deps{
		Pins:    svc.pins,
		OneWire: svc.onewire,
		I2C:     svc.i2c,
		Analog:  deps.Analog,
		Digital: deps.Digital,
		Offload: svc.offload,
		Store:   deps.Store,
	}, identity, collector, logger)

	if restored := svc.registry.Restore(); restored > 0 {
		logger.Info().Int("sensors", restored).Msg("restored persisted sensors")
	}
	for _, sensor := range cfg.Sensors {
		if err := svc.registry.Configure(sensor); err != nil {
			return nil, fmt.Errorf("configure sensor on pin %d: %w", sensor.Pin, err)
		}
	}

	svc.scheduler = scheduler.New(svc.registry, deps.Publisher, collector, scheduler.Options{
		TopicPrefix:     cfg.Publish.TopicPrefix,
		QoS:             cfg.Publish.QoS,
		Tick:            cfg.Scheduler.Tick.Duration,
		DefaultInterval: cfg.Scheduler.DefaultInterval.Duration,
	}, logger)

	for _, dep := range []interface{}{deps.Publisher, deps.Store, deps.Transport} {
		if closer, ok := dep.(io.Closer); ok {
			svc.closers = append(svc.closers, closer)
		}
	}
	return svc, nil
}

// Run executes the measurement loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.scheduler.Run(ctx)
}

// ConfigureSensor registers or reconfigures a sensor at runtime.
func (s *Service) ConfigureSensor(cfg config.SensorConfig) error {
	return s.registry.Configure(cfg)
}

// RemoveSensor unregisters every sensor on the pin and releases it.
func (s *Service) RemoveSensor(pin int) error {
	return s.registry.Remove(pin)
}

// TriggerManualMeasurement measures a sensor on demand and publishes the
// readings.
func (s *Service) TriggerManualMeasurement(ctx context.Context, pin int) ([]sensors.Reading, error) {
	return s.scheduler.TriggerManual(ctx, pin)
}

// SetMeasurementInterval changes the automatic measurement interval of a
// configured sensor.
func (s *Service) SetMeasurementInterval(pin int, interval time.Duration) error {
	return s.registry.SetInterval(pin, interval)
}

// SensorStates returns a snapshot of the configured sensors.
func (s *Service) SensorStates() []sensors.State {
	return s.registry.States()
}

// BreakerState reports the current offload circuit breaker state.
func (s *Service) BreakerState() breaker.State {
	return s.breaker.State()
}

// Close releases the external collaborators the service owns.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
