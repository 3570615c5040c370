package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdanterra/fieldnode/config"
	"github.com/verdanterra/fieldnode/hw"
	"github.com/verdanterra/fieldnode/remote"
	"github.com/verdanterra/fieldnode/telemetry"
)

// Store is the external persistence collaborator. Every sensor-config field
// is saved as an individually keyed value plus one indexed list of active
// keys per namespace.
type Store interface {
	Load(namespace, key string) (string, bool)
	Save(namespace, key, value string) error
	Delete(namespace, key string) error
}

// Deps bundles the collaborators the registry measures through. The registry
// never touches hardware except via Pins, OneWire, I2C and the line readers,
// and never calls the offload client outside Process.
type Deps struct {
	Pins    *hw.PinRegistry
	OneWire *hw.OneWireCoordinator
	I2C     *hw.I2CCoordinator
	Analog  hw.AnalogLine
	Digital hw.DigitalLine
	Offload *remote.OffloadClient
	Store   Store
}

// record is one configured sensor value. Multi-value devices hold one record
// per derived value type under the same pin.
type record struct {
	cfg       config.SensorConfig
	cap       Capability
	valueType string
	remote    string
	offset    int
	length    int
	lastRaw   float64
	lastRead  time.Time
}

// State is a snapshot of one sensor slot for the scheduler.
type State struct {
	Pin        int
	Type       string
	Mode       config.OperatingMode
	Active     bool
	MultiValue bool
	Interval   time.Duration
	LastRead   time.Time
}

// Registry is the authoritative in-memory table of configured sensors and
// the measurement dispatcher.
type Registry struct {
	mu        sync.Mutex
	deps      Deps
	identity  remote.Identity
	telemetry telemetry.Collector
	logger    zerolog.Logger
	now       func() time.Time
	records   map[int][]*record
}

// NewRegistry creates an empty registry. Telemetry may be nil.
func NewRegistry(deps Deps, identity remote.Identity, collector telemetry.Collector, logger zerolog.Logger) *Registry {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Registry{
		deps:      deps,
		identity:  identity,
		telemetry: collector,
		logger:    logger.With().Str("component", "sensors").Logger(),
		now:       time.Now,
		records:   make(map[int][]*record),
	}
}

// Configure validates, arbitrates and registers a sensor configuration. The
// call is an idempotent upsert keyed by pin: reconfiguring the same pin with
// the same type updates the record in place, a different type replaces the
// previous sensor. Pins held by a shared bus are never torn down implicitly;
// a different type on a bus pin is rejected as a conflict. Any arbitration
// failure rejects the whole call with no partial state retained.
func (r *Registry) Configure(cfg config.SensorConfig) error {
	if cfg.Pin < 0 {
		return fmt.Errorf("sensor pin must not be negative")
	}
	if cfg.Type == "" {
		return fmt.Errorf("sensor on pin %d: type must not be empty", cfg.Pin)
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeContinuous
	}
	if !cfg.Mode.Valid() {
		return fmt.Errorf("sensor on pin %d: unknown mode %q", cfg.Pin, cfg.Mode)
	}

	cap, known := LookupCapability(cfg.Type)
	if !known {
		cap = InferCapability(cfg.Type)
		r.logger.Warn().Int("pin", cfg.Pin).Str("type", cfg.Type).Str("interface", cap.Interface.String()).Msg("unknown sensor type, using inferred capability")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	appendToPin := false
	var replaced []*record
	if existing, ok := r.records[cfg.Pin]; ok {
		switch {
		case existing[0].cfg.Type == cfg.Type && cap.Interface == InterfaceOneWire:
			// A shared bus pin may carry several device identities. The
			// same identity is an update; a new identity is attached
			// alongside the existing ones.
			for _, rec := range existing {
				if rec.cfg.Address == cfg.Address {
					rec.cfg = cfg
					r.persistLocked(cfg)
					return nil
				}
			}
			appendToPin = true
		case existing[0].cfg.Type == cfg.Type:
			for _, rec := range existing {
				rec.cfg = cfg
			}
			r.persistLocked(cfg)
			return nil
		case existing[0].cap.Interface == InterfaceOneWire, existing[0].cap.Interface == InterfaceI2C:
			// The pin belongs to a shared bus; tearing it down would strand
			// the other devices behind it.
			return fmt.Errorf("configure %s on pin %d: pin is owned by a shared bus: %w", cfg.Type, cfg.Pin, hw.ErrPinConflict)
		default:
			// Different type on the same pin: replace the previous sensor,
			// but only once the new config has passed arbitration.
			replaced = existing
		}
	}

	switch cap.Interface {
	case InterfaceI2C:
		address := cap.BusAddress
		if cfg.BusAddress != 0 {
			address = cfg.BusAddress
		}
		if r.deps.I2C == nil {
			return fmt.Errorf("sensor on pin %d: no i2c bus available", cfg.Pin)
		}
		if err := r.deps.I2C.Attach(address, cap.Family); err != nil {
			return fmt.Errorf("configure %s on pin %d: %w", cfg.Type, cfg.Pin, err)
		}
		cap.BusAddress = address
		if replaced != nil {
			r.removeLocked(cfg.Pin)
		}
	case InterfaceOneWire:
		if r.deps.OneWire == nil {
			return fmt.Errorf("sensor on pin %d: no one-wire bus available", cfg.Pin)
		}
		// The bus needs the pin, so the previous sensor must release it
		// first; a failed attach reinstates the previous sensor.
		if replaced != nil {
			r.removeLocked(cfg.Pin)
		}
		if err := r.deps.OneWire.Attach(cfg.Pin, cfg.Address); err != nil {
			if replaced != nil {
				r.reinstateLocked(replaced)
			}
			return fmt.Errorf("configure %s on pin %d: %w", cfg.Type, cfg.Pin, err)
		}
	case InterfaceAnalog:
		if !r.deps.Pins.IsAnalog(cfg.Pin) {
			return fmt.Errorf("configure %s: pin %d is not analog-capable", cfg.Type, cfg.Pin)
		}
		if replaced != nil {
			r.removeLocked(cfg.Pin)
		}
		if err := r.deps.Pins.Reserve(cfg.Pin, hw.OwnerSensor, cfg.Type); err != nil {
			return fmt.Errorf("configure %s on pin %d: %w", cfg.Type, cfg.Pin, err)
		}
	case InterfaceDigital, InterfaceUnknown:
		if replaced != nil {
			r.removeLocked(cfg.Pin)
		}
		if err := r.deps.Pins.Reserve(cfg.Pin, hw.OwnerSensor, cfg.Type); err != nil {
			return fmt.Errorf("configure %s on pin %d: %w", cfg.Type, cfg.Pin, err)
		}
	}

	records := buildRecords(cfg, cap)
	if appendToPin {
		records = append(r.records[cfg.Pin], records...)
	}
	r.records[cfg.Pin] = records
	r.persistLocked(cfg)
	r.logger.Info().Int("pin", cfg.Pin).Str("type", cfg.Type).Str("interface", cap.Interface.String()).Int("values", len(records)).Msg("sensor configured")
	return nil
}

func buildRecords(cfg config.SensorConfig, cap Capability) []*record {
	if cap.MultiValue && len(cap.Values) > 0 {
		records := make([]*record, 0, len(cap.Values))
		for _, spec := range cap.Values {
			records = append(records, &record{
				cfg:       cfg,
				cap:       cap,
				valueType: spec.Type,
				remote:    spec.RemoteType,
				offset:    spec.Offset,
				length:    spec.Length,
			})
		}
		return records
	}
	return []*record{{
		cfg:       cfg,
		cap:       cap,
		valueType: cfg.Type,
		remote:    cap.RemoteType,
	}}
}

// Remove releases the sensor's resources, drops the in-memory record and
// deletes the persisted copy.
func (r *Registry) Remove(pin int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[pin]; !ok {
		return fmt.Errorf("no sensor configured on pin %d", pin)
	}
	r.removeLocked(pin)
	return nil
}

func (r *Registry) removeLocked(pin int) {
	records, ok := r.records[pin]
	if !ok {
		return
	}
	rec := records[0]
	switch rec.cap.Interface {
	case InterfaceI2C:
		// The bus pin pair stays system-reserved; only the address is freed.
		if r.deps.I2C != nil {
			r.deps.I2C.Detach(rec.cap.BusAddress)
		}
	case InterfaceOneWire:
		// The coordinator releases the bus pin once the last identity leaves.
		if r.deps.OneWire != nil {
			for _, owRec := range records {
				r.deps.OneWire.Detach(owRec.cfg.Address)
			}
		}
	default:
		r.deps.Pins.Release(pin)
	}
	delete(r.records, pin)
	for _, removed := range records {
		r.unpersistLocked(removed.cfg)
	}
	r.logger.Info().Int("pin", pin).Str("type", rec.cfg.Type).Msg("sensor removed")
}

// reinstateLocked puts a just-removed plain-pin sensor back after a failed
// replacement. Bus-owned records never reach this path; their pins are
// rejected before removal.
func (r *Registry) reinstateLocked(records []*record) {
	rec := records[0]
	if err := r.deps.Pins.Reserve(rec.cfg.Pin, hw.OwnerSensor, rec.cfg.Type); err != nil {
		r.logger.Error().Err(err).Int("pin", rec.cfg.Pin).Str("type", rec.cfg.Type).Msg("reinstate sensor reservation failed")
	}
	r.records[rec.cfg.Pin] = records
	r.persistLocked(rec.cfg)
}

// SetInterval updates the measurement interval of a configured sensor.
func (r *Registry) SetInterval(pin int, interval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.records[pin]
	if !ok {
		return fmt.Errorf("no sensor configured on pin %d", pin)
	}
	for _, rec := range records {
		rec.cfg.Interval = config.Duration{Duration: interval}
	}
	r.persistLocked(records[0].cfg)
	return nil
}

// States returns one scheduling snapshot per configured pin.
func (r *Registry) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, 0, len(r.records))
	for pin, records := range r.records {
		rec := records[0]
		states = append(states, State{
			Pin:        pin,
			Type:       rec.cfg.Type,
			Mode:       rec.cfg.Mode,
			Active:     rec.cfg.IsActive(),
			MultiValue: rec.cap.MultiValue,
			Interval:   rec.cfg.Interval.Duration,
			LastRead:   rec.lastRead,
		})
	}
	return states
}

// Measure performs a single measurement for the sensor on a pin. For
// multi-value devices the first configured value type is measured; use
// MeasureMulti to derive all of them from one transfer. The returned Reading
// is invalid (never an error) on any interface or remote failure.
func (r *Registry) Measure(ctx context.Context, pin int) Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	records, ok := r.records[pin]
	if !ok {
		return invalidReading(r.identity.DeviceID, r.identity.Zone, "", pin, "", now, fmt.Sprintf("no sensor configured on pin %d", pin))
	}
	rec := records[0]
	if rec.cap.Interface == InterfaceI2C {
		transfer, err := r.transferLocked(rec)
		if err != nil {
			rec.lastRead = now
			r.telemetry.IncMeasurement(rec.valueType, telemetry.ResultInterfaceError)
			return invalidReading(r.identity.DeviceID, r.identity.Zone, rec.cfg.Subzone, pin, rec.valueType, now, err.Error())
		}
		return r.measureDerivedLocked(ctx, rec, transfer, now)
	}
	return r.measureDirectLocked(ctx, rec, now)
}

// MeasureMulti performs exactly one physical transfer for a multi-value
// device and derives up to maxValues readings from disjoint byte ranges of
// it. A failure deriving one value type does not prevent deriving the others.
// For single-value sensors it degrades to a single Measure.
func (r *Registry) MeasureMulti(ctx context.Context, pin int, maxValues int) []Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.records[pin]
	if !ok {
		now := r.now()
		return []Reading{invalidReading(r.identity.DeviceID, r.identity.Zone, "", pin, "", now, fmt.Sprintf("no sensor configured on pin %d", pin))}
	}

	now := r.now()
	if maxValues <= 0 || maxValues > len(records) {
		maxValues = len(records)
	}

	if !records[0].cap.MultiValue {
		// Several one-wire identities may share the pin; measure each
		// through its own serialized bus read.
		readings := make([]Reading, 0, maxValues)
		for _, rec := range records[:maxValues] {
			readings = append(readings, r.measureDirectLocked(ctx, rec, now))
		}
		return readings
	}

	transfer, err := r.transferLocked(records[0])
	if err != nil {
		readings := make([]Reading, 0, maxValues)
		for _, rec := range records[:maxValues] {
			rec.lastRead = now
			r.telemetry.IncMeasurement(rec.valueType, telemetry.ResultInterfaceError)
			readings = append(readings, invalidReading(r.identity.DeviceID, r.identity.Zone, rec.cfg.Subzone, pin, rec.valueType, now, err.Error()))
		}
		return readings
	}

	readings := make([]Reading, 0, maxValues)
	for _, rec := range records[:maxValues] {
		readings = append(readings, r.measureDerivedLocked(ctx, rec, transfer, now))
	}
	return readings
}

// transferLocked performs the single physical bus transfer for an I2C record.
func (r *Registry) transferLocked(rec *record) ([]byte, error) {
	if r.deps.I2C == nil {
		return nil, fmt.Errorf("no i2c bus available")
	}
	length := rec.cap.TransferLength
	if length <= 0 {
		length = rec.offset + rec.length
	}
	return r.deps.I2C.ReadRegisters(rec.cap.BusAddress, rec.cap.Register, length)
}

// measureDerivedLocked derives one value type from an already-performed bus
// transfer and runs it through the offload pipeline.
func (r *Registry) measureDerivedLocked(ctx context.Context, rec *record, transfer []byte, now time.Time) Reading {
	rec.lastRead = now
	if rec.offset+rec.length > len(transfer) {
		r.telemetry.IncMeasurement(rec.valueType, telemetry.ResultInterfaceError)
		return invalidReading(r.identity.DeviceID, r.identity.Zone, rec.cfg.Subzone, rec.cfg.Pin, rec.valueType, now,
			fmt.Sprintf("transfer too short for %s (%d bytes, need %d)", rec.valueType, len(transfer), rec.offset+rec.length))
	}
	var raw float64
	switch rec.length {
	case 1:
		raw = float64(transfer[rec.offset])
	default:
		raw = float64(binary.BigEndian.Uint16(transfer[rec.offset : rec.offset+2]))
	}
	return r.finishLocked(ctx, rec, raw, hw.QualityRaw, now)
}

// measureDirectLocked reads a non-I2C record through its interface.
func (r *Registry) measureDirectLocked(ctx context.Context, rec *record, now time.Time) Reading {
	rec.lastRead = now
	var (
		raw     float64
		quality = hw.QualityRaw
		err     error
	)
	switch rec.cap.Interface {
	case InterfaceAnalog, InterfaceUnknown:
		if r.deps.Analog == nil {
			err = fmt.Errorf("no analog line available")
		} else {
			raw, err = r.deps.Analog.ReadAnalog(rec.cfg.Pin)
		}
	case InterfaceDigital:
		if r.deps.Digital == nil {
			err = fmt.Errorf("no digital line available")
		} else {
			raw, err = r.deps.Digital.ReadDigital(rec.cfg.Pin)
		}
	case InterfaceOneWire:
		raw, quality, err = r.deps.OneWire.Read(rec.cfg.Address)
	default:
		err = fmt.Errorf("unsupported interface %s", rec.cap.Interface)
	}
	if err != nil {
		r.telemetry.IncMeasurement(rec.valueType, telemetry.ResultInterfaceError)
		r.logger.Warn().Err(err).Int("pin", rec.cfg.Pin).Str("type", rec.valueType).Msg("interface read failed")
		return invalidReading(r.identity.DeviceID, r.identity.Zone, rec.cfg.Subzone, rec.cfg.Pin, rec.valueType, now, err.Error())
	}
	return r.finishLocked(ctx, rec, raw, quality, now)
}

// finishLocked records the raw value, offloads it for processing and builds
// the Reading.
func (r *Registry) finishLocked(ctx context.Context, rec *record, raw float64, rawQuality string, now time.Time) Reading {
	rec.lastRaw = raw

	processed := r.deps.Offload.Process(ctx, rec.cfg.Pin, rec.remote, raw, now, rec.cfg.Subzone)

	reading := Reading{
		DeviceID:      r.identity.DeviceID,
		Zone:          r.identity.Zone,
		Subzone:       rec.cfg.Subzone,
		Pin:           rec.cfg.Pin,
		SensorType:    rec.valueType,
		Raw:           raw,
		Timestamp:     now.Unix(),
		DeviceAddress: rec.cfg.Address,
		Quality:       rawQuality,
	}
	if processed.Valid {
		reading.Valid = true
		reading.Processed = processed.Value
		reading.Unit = processed.Unit
		reading.Quality = processed.Quality
		r.telemetry.IncMeasurement(rec.valueType, telemetry.ResultOK)
		r.telemetry.IncOffload(telemetry.ResultOK)
	} else {
		reading.Valid = false
		reading.Err = processed.Err
		result := telemetry.ResultOffloadError
		if processed.Err == "circuit open" {
			result = telemetry.ResultCircuitOpen
		}
		r.telemetry.IncMeasurement(rec.valueType, result)
		r.telemetry.IncOffload(result)
	}
	return reading
}
