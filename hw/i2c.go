package hw

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrBusNotInitialized is returned when an attach or transfer is
	// attempted before the platform brought the bus up.
	ErrBusNotInitialized = errors.New("i2c bus not initialized")
	// ErrAddressConflict is returned when two different device families
	// claim the same bus address.
	ErrAddressConflict = errors.New("i2c address held by different device family")
)

// I2CCoordinator arbitrates the addressed two-wire bus.
//
// The data/clock pin pair belongs permanently to the bus and is reserved once
// at construction as a system allocation; attaches only touch the address
// map. One device family may expose several value types at one address
// (multi-value sensors), so re-attaching the same family to the same address
// is accepted.
type I2CCoordinator struct {
	mu       sync.Mutex
	line     BusLine
	logger   zerolog.Logger
	dataPin  int
	clockPin int
	families map[uint16]string
}

// NewI2CCoordinator reserves the bus pin pair in the ledger and returns the
// coordinator. The physical bus itself is brought up by the platform layer
// before sensors attach.
func NewI2CCoordinator(pins *PinRegistry, line BusLine, dataPin, clockPin int, logger zerolog.Logger) (*I2CCoordinator, error) {
	if err := pins.Reserve(dataPin, OwnerSystem, "i2c-data"); err != nil {
		return nil, fmt.Errorf("reserve i2c data pin: %w", err)
	}
	if err := pins.Reserve(clockPin, OwnerSystem, "i2c-clock"); err != nil {
		pins.Release(dataPin)
		return nil, fmt.Errorf("reserve i2c clock pin: %w", err)
	}
	return &I2CCoordinator{
		line:     line,
		logger:   logger.With().Str("component", "i2c").Logger(),
		dataPin:  dataPin,
		clockPin: clockPin,
		families: make(map[uint16]string),
	}, nil
}

// Attach registers a device family at a bus address. Same address and same
// family is accepted (multi-value fan-out); same address under a different
// family is a conflict. Attach fails fast when the bus is down.
func (c *I2CCoordinator) Attach(address uint16, family string) error {
	if family == "" {
		return fmt.Errorf("i2c attach at 0x%02x: device family must not be empty", address)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.line.Initialized() {
		return ErrBusNotInitialized
	}
	if existing, ok := c.families[address]; ok {
		if existing == family {
			return nil
		}
		return fmt.Errorf("%w: 0x%02x held by %q, requested %q", ErrAddressConflict, address, existing, family)
	}
	c.families[address] = family
	c.logger.Debug().Uint16("address", address).Str("family", family).Msg("i2c device attached")
	return nil
}

// Detach frees a bus address.
func (c *I2CCoordinator) Detach(address uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.families, address)
}

// FamilyAt returns the device family registered at an address.
func (c *I2CCoordinator) FamilyAt(address uint16) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	family, ok := c.families[address]
	return family, ok
}

// ReadRegisters performs a raw transfer; callers interpret the bytes per
// device family and value type.
func (c *I2CCoordinator) ReadRegisters(address uint16, register uint8, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.line.Initialized() {
		return nil, ErrBusNotInitialized
	}
	if _, ok := c.families[address]; !ok {
		return nil, fmt.Errorf("i2c address 0x%02x not attached", address)
	}
	data, err := c.line.ReadRegisters(address, register, length)
	if err != nil {
		return nil, fmt.Errorf("i2c read 0x%02x reg 0x%02x: %w", address, register, err)
	}
	if len(data) < length {
		return nil, fmt.Errorf("i2c read 0x%02x: short transfer (%d of %d bytes)", address, len(data), length)
	}
	return data, nil
}

// Pins returns the system-reserved data and clock pins of the bus.
func (c *I2CCoordinator) Pins() (data, clock int) {
	return c.dataPin, c.clockPin
}
