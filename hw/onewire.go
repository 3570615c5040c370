package hw

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Quality tags attached to raw one-wire readings.
const (
	QualityRaw     = "raw"
	QualitySuspect = "suspect"
)

var (
	// ErrBusConflict is returned when a second one-wire bus is requested
	// while one is already active on a different pin.
	ErrBusConflict = errors.New("one-wire bus already active on another pin")
	// ErrDuplicateDevice is returned when a device identity is already
	// registered under a different pin.
	ErrDuplicateDevice = errors.New("one-wire device already registered")
	// ErrDeviceAbsent is returned when a presence probe fails.
	ErrDeviceAbsent = errors.New("one-wire device not present on bus")
)

// deviceIdentityPattern matches the fixed-length identity code burned into
// every one-wire device: 16 hexadecimal digits.
var deviceIdentityPattern = regexp.MustCompile(`^[0-9A-Fa-f]{16}$`)

const (
	oneWireReadAttempts = 3
	oneWireRetryDelay   = 50 * time.Millisecond
	// Generous physical window for the thermal device family, in native
	// device units. Values outside it are reported as suspect, not dropped;
	// the remote processor decides whether to reject them.
	oneWireSaneMin = -55.0
	oneWireSaneMax = 125.0
)

// OneWireCoordinator lets many device identities share one physical pin.
//
// The first attach reserves the pin under a synthetic bus-owner label and
// lazily initializes the physical bus; later attaches on the same pin share
// it. Only one one-wire bus may be active per device.
type OneWireCoordinator struct {
	mu      sync.Mutex
	pins    *PinRegistry
	line    OneWireLine
	logger  zerolog.Logger
	busPin  int
	devices map[string]int

	retryDelay time.Duration
}

// NewOneWireCoordinator creates a coordinator over the given ledger and
// physical line.
func NewOneWireCoordinator(pins *PinRegistry, line OneWireLine, logger zerolog.Logger) *OneWireCoordinator {
	return &OneWireCoordinator{
		pins:       pins,
		line:       line,
		logger:     logger.With().Str("component", "onewire").Logger(),
		busPin:     -1,
		devices:    make(map[string]int),
		retryDelay: oneWireRetryDelay,
	}
}

// BusOwnerLabel derives the synthetic owner label used for a bus pin.
func BusOwnerLabel(pin int) string {
	return fmt.Sprintf("onewire-bus-%d", pin)
}

// ValidIdentity reports whether address is a well-formed device identity.
func ValidIdentity(address string) bool {
	return deviceIdentityPattern.MatchString(address)
}

// Attach registers a device identity on the bus pin. The pin is reserved on
// first attach; attaching further identities to the same pin shares the bus.
// Attach fails if the pin is owned by anything other than this bus, if a
// second bus pin is requested, or if the identity is malformed, duplicated or
// absent from the wire.
func (c *OneWireCoordinator) Attach(pin int, address string) error {
	if !ValidIdentity(address) {
		return fmt.Errorf("invalid one-wire identity %q (want 16 hex digits)", address)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.devices[address]; ok {
		if existing == pin {
			return nil
		}
		return fmt.Errorf("%w: identity %s bound to pin %d", ErrDuplicateDevice, address, existing)
	}

	label := BusOwnerLabel(pin)
	if err := c.pins.Reserve(pin, OwnerBus, label); err != nil {
		return err
	}

	if err := c.ensureBus(pin); err != nil {
		if len(c.busDevicesLocked(pin)) == 0 {
			c.pins.Release(pin)
		}
		return err
	}

	if !c.probeLocked(address) {
		if len(c.busDevicesLocked(pin)) == 0 {
			c.pins.Release(pin)
		}
		return fmt.Errorf("%w: %s", ErrDeviceAbsent, address)
	}

	c.devices[address] = pin
	c.logger.Debug().Int("pin", pin).Str("address", address).Msg("one-wire device attached")
	return nil
}

// ensureBus lazily initializes the physical bus on first attach. A second bus
// on a different pin is rejected while one is active.
func (c *OneWireCoordinator) ensureBus(pin int) error {
	if c.busPin == pin {
		return nil
	}
	if c.busPin >= 0 {
		return fmt.Errorf("%w: pin %d active, pin %d requested", ErrBusConflict, c.busPin, pin)
	}
	if err := c.line.Init(pin); err != nil {
		return fmt.Errorf("init one-wire bus on pin %d: %w", pin, err)
	}
	c.busPin = pin
	c.logger.Info().Int("pin", pin).Msg("one-wire bus initialized")
	return nil
}

// VerifyDevicePresent probes the wire for the given identity.
func (c *OneWireCoordinator) VerifyDevicePresent(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeLocked(address)
}

func (c *OneWireCoordinator) probeLocked(address string) bool {
	found, err := c.line.Search()
	if err != nil {
		c.logger.Warn().Err(err).Msg("one-wire search failed")
		return false
	}
	for _, id := range found {
		if id == address {
			return true
		}
	}
	return false
}

// IsDuplicate reports whether the identity is already registered, and under
// which pin.
func (c *OneWireCoordinator) IsDuplicate(address string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pin, ok := c.devices[address]
	return pin, ok
}

// Detach removes a device identity. When the last identity on the bus pin is
// gone, the pin reservation is released and the bus marked down.
func (c *OneWireCoordinator) Detach(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pin, ok := c.devices[address]
	if !ok {
		return
	}
	delete(c.devices, address)
	if len(c.busDevicesLocked(pin)) == 0 {
		c.pins.Release(pin)
		c.busPin = -1
		c.logger.Info().Int("pin", pin).Msg("one-wire bus released")
	}
}

func (c *OneWireCoordinator) busDevicesLocked(pin int) []string {
	var ids []string
	for id, p := range c.devices {
		if p == pin {
			ids = append(ids, id)
		}
	}
	return ids
}

// Read performs the physical read for a registered identity with bounded
// retries. Out-of-window values are still returned, tagged suspect.
func (c *OneWireCoordinator) Read(address string) (float64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.devices[address]; !ok {
		return 0, "", fmt.Errorf("one-wire identity %s not attached", address)
	}

	var lastErr error
	for attempt := 1; attempt <= oneWireReadAttempts; attempt++ {
		value, err := c.line.ReadDevice(address)
		if err == nil {
			if value < oneWireSaneMin || value > oneWireSaneMax {
				c.logger.Warn().Str("address", address).Float64("value", value).Msg("one-wire value outside sanity window")
				return value, QualitySuspect, nil
			}
			return value, QualityRaw, nil
		}
		lastErr = err
		if attempt < oneWireReadAttempts {
			time.Sleep(c.retryDelay)
		}
	}
	return 0, "", fmt.Errorf("read one-wire %s after %d attempts: %w", address, oneWireReadAttempts, lastErr)
}

// BusPin returns the pin of the active bus, or -1 when no bus is up.
func (c *OneWireCoordinator) BusPin() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busPin
}
