package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdanterra/fieldnode/config"
	"github.com/verdanterra/fieldnode/sensors"
	"github.com/verdanterra/fieldnode/telemetry"
)

// Publisher is the external messaging collaborator readings are handed to.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
}

// ErrPaused is returned when a manual trigger hits a paused sensor.
var ErrPaused = errors.New("sensor is paused")

// Options tune the measurement loop.
type Options struct {
	TopicPrefix     string
	QoS             byte
	Tick            time.Duration
	DefaultInterval time.Duration
}

// Scheduler drives periodic, per-sensor-interval measurement. Ticks,
// measurements and publishes run sequentially to completion within one
// iteration; the only blocking points are the bounded bus reads and the
// offload request timeout.
type Scheduler struct {
	registry  *sensors.Registry
	publisher Publisher
	telemetry telemetry.Collector
	logger    zerolog.Logger

	topicPrefix     string
	qos             byte
	tick            time.Duration
	defaultInterval time.Duration
	now             func() time.Time
}

// New creates a scheduler over the given registry and publisher. Publisher
// and collector may be nil; readings are then measured but not shipped.
func New(registry *sensors.Registry, publisher Publisher, collector telemetry.Collector, opts Options, logger zerolog.Logger) *Scheduler {
	if collector == nil {
		collector = telemetry.Noop()
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = time.Second
	}
	defaultInterval := opts.DefaultInterval
	if defaultInterval <= 0 {
		defaultInterval = 30 * time.Second
	}
	return &Scheduler{
		registry:        registry,
		publisher:       publisher,
		telemetry:       collector,
		logger:          logger.With().Str("component", "scheduler").Logger(),
		topicPrefix:     opts.TopicPrefix,
		qos:             opts.QoS,
		tick:            tick,
		defaultInterval: defaultInterval,
		now:             time.Now,
	}
}

// Run drives the cooperative measurement loop until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			s.Iterate(ctx, s.now())
			s.telemetry.ObserveIteration(time.Since(start).Seconds())
		}
	}
}

// Iterate measures every active continuous sensor whose interval has
// elapsed and publishes the resulting readings. It returns the number of
// sensors measured. A failed or invalid reading still counts as measured for
// scheduling purposes, so a broken sensor cannot cause a retry storm.
func (s *Scheduler) Iterate(ctx context.Context, now time.Time) int {
	measured := 0
	for _, state := range s.registry.States() {
		if !state.Active || state.Mode != config.ModeContinuous {
			continue
		}
		interval := state.Interval
		if interval <= 0 {
			interval = s.defaultInterval
		}
		if !state.LastRead.IsZero() && now.Sub(state.LastRead) < interval {
			continue
		}
		readings := s.registry.MeasureMulti(ctx, state.Pin, 0)
		s.publishAll(readings)
		measured++
	}
	return measured
}

// TriggerManual measures a single sensor on demand and publishes the
// readings. Paused sensors reject manual triggers.
func (s *Scheduler) TriggerManual(ctx context.Context, pin int) ([]sensors.Reading, error) {
	for _, state := range s.registry.States() {
		if state.Pin != pin {
			continue
		}
		if state.Mode == config.ModePaused {
			return nil, fmt.Errorf("trigger pin %d: %w", pin, ErrPaused)
		}
		readings := s.registry.MeasureMulti(ctx, pin, 0)
		s.publishAll(readings)
		return readings, nil
	}
	return nil, fmt.Errorf("no sensor configured on pin %d", pin)
}

func (s *Scheduler) publishAll(readings []sensors.Reading) {
	if s.publisher == nil {
		return
	}
	for _, reading := range readings {
		payload, err := json.Marshal(reading)
		if err != nil {
			s.logger.Error().Err(err).Int("pin", reading.Pin).Msg("encode reading failed")
			continue
		}
		topic := s.topicFor(reading)
		if err := s.publisher.Publish(topic, payload, s.qos); err != nil {
			s.telemetry.IncPublishError()
			s.logger.Warn().Err(err).Str("topic", topic).Msg("publish reading failed")
		}
	}
}

func (s *Scheduler) topicFor(reading sensors.Reading) string {
	parts := make([]string, 0, 5)
	if s.topicPrefix != "" {
		parts = append(parts, s.topicPrefix)
	}
	if reading.Zone != "" {
		parts = append(parts, reading.Zone)
	}
	if reading.Subzone != "" {
		parts = append(parts, reading.Subzone)
	}
	parts = append(parts, strconv.Itoa(reading.Pin))
	if reading.SensorType != "" {
		parts = append(parts, reading.SensorType)
	}
	return strings.Join(parts, "/")
}
