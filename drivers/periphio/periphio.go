// Package periphio binds the abstract hardware lines to real host
// peripherals via periph.io. Each adapter is a thin translation layer; pin
// arbitration and retry policy stay in the hw package.
package periphio

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once

// Init loads the host drivers. Safe to call more than once.
func Init() error {
	var err error
	hostInit.Do(func() {
		_, err = host.Init()
	})
	return err
}

// Digital reads GPIO pins by number. Pin numbers map to host pin names
// through the prefix, "GPIO" on most boards.
type Digital struct {
	prefix string
}

// NewDigital creates a GPIO reader. An empty prefix defaults to "GPIO".
func NewDigital(prefix string) (*Digital, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("periphio: host init: %w", err)
	}
	if prefix == "" {
		prefix = "GPIO"
	}
	return &Digital{prefix: prefix}, nil
}

// ReadDigital samples a pin and reports 1 for high, 0 for low.
func (d *Digital) ReadDigital(pin int) (float64, error) {
	p := gpioreg.ByName(d.prefix + strconv.Itoa(pin))
	if p == nil {
		return 0, fmt.Errorf("periphio: no gpio pin %s%d", d.prefix, pin)
	}
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return 0, fmt.Errorf("periphio: configure pin %s: %w", p.Name(), err)
	}
	if p.Read() == gpio.High {
		return 1, nil
	}
	return 0, nil
}

// ADC exposes a fixed map of analog-capable pins. Boards without an on-chip
// ADC wire an external converter's channels in here.
type ADC struct {
	pins map[int]analog.PinADC
}

// NewADC creates an analog reader over the given pin map.
func NewADC(pins map[int]analog.PinADC) *ADC {
	return &ADC{pins: pins}
}

// NewHostADC resolves the given pin numbers against the host gpio registry
// and binds every pin that is ADC-capable. Boards whose analog channels sit
// behind an external converter use NewADC with an explicit map instead.
func NewHostADC(prefix string, pins []int) (*ADC, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("periphio: host init: %w", err)
	}
	if prefix == "" {
		prefix = "GPIO"
	}
	channels := make(map[int]analog.PinADC, len(pins))
	for _, pin := range pins {
		p := gpioreg.ByName(prefix + strconv.Itoa(pin))
		if p == nil {
			return nil, fmt.Errorf("periphio: no gpio pin %s%d", prefix, pin)
		}
		adc, ok := any(p).(analog.PinADC)
		if !ok {
			return nil, fmt.Errorf("periphio: pin %s is not adc-capable", p.Name())
		}
		channels[pin] = adc
	}
	return NewADC(channels), nil
}

// ReadAnalog samples a pin and returns the raw converter value.
func (a *ADC) ReadAnalog(pin int) (float64, error) {
	p, ok := a.pins[pin]
	if !ok {
		return 0, fmt.Errorf("periphio: no adc channel for pin %d", pin)
	}
	sample, err := p.Read()
	if err != nil {
		return 0, fmt.Errorf("periphio: read %s: %w", p.Name(), err)
	}
	return float64(sample.Raw), nil
}

// I2CBus adapts a periph i2c bus to register reads.
type I2CBus struct {
	bus i2c.BusCloser
}

// OpenI2C opens a host i2c bus. An empty name selects the default bus.
func OpenI2C(name string) (*I2CBus, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("periphio: host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphio: open i2c bus %q: %w", name, err)
	}
	return &I2CBus{bus: bus}, nil
}

// Initialized reports whether the bus handle is usable.
func (b *I2CBus) Initialized() bool {
	return b != nil && b.bus != nil
}

// ReadRegisters reads length bytes starting at a device register.
func (b *I2CBus) ReadRegisters(addr uint16, register uint8, length int) ([]byte, error) {
	if !b.Initialized() {
		return nil, fmt.Errorf("periphio: i2c bus not open")
	}
	buf := make([]byte, length)
	if err := b.bus.Tx(addr, []byte{register}, buf); err != nil {
		return nil, fmt.Errorf("periphio: i2c read 0x%02X reg 0x%02X: %w", addr, register, err)
	}
	return buf, nil
}

// Close releases the bus handle.
func (b *I2CBus) Close() error {
	if b == nil || b.bus == nil {
		return nil
	}
	return b.bus.Close()
}

const (
	cmdMatchROM       = 0x55
	cmdConvertTemp    = 0x44
	cmdReadScratchpad = 0xBE
)

// OneWireBus adapts a periph 1-wire bus to the coordinator's line
// interface. ReadDevice speaks the DS18B20 temperature protocol, the only
// 1-wire device family the node supports.
type OneWireBus struct {
	bus onewire.BusCloser
}

// OpenOneWire opens a host 1-wire bus. An empty name selects the default
// bus.
func OpenOneWire(name string) (*OneWireBus, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("periphio: host init: %w", err)
	}
	bus, err := onewirereg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphio: open 1-wire bus %q: %w", name, err)
	}
	return &OneWireBus{bus: bus}, nil
}

// Init is a no-op beyond checking the handle: the host overlay fixes the
// bus pin, it cannot be moved at runtime.
func (o *OneWireBus) Init(_ int) error {
	if o == nil || o.bus == nil {
		return fmt.Errorf("periphio: 1-wire bus not open")
	}
	return nil
}

// Search enumerates the device identities present on the bus.
func (o *OneWireBus) Search() ([]string, error) {
	addrs, err := o.bus.Search(false)
	if err != nil {
		return nil, fmt.Errorf("periphio: 1-wire search: %w", err)
	}
	identities := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		identities = append(identities, formatIdentity(uint64(addr)))
	}
	return identities, nil
}

// ReadDevice triggers a temperature conversion on one device and reads its
// scratchpad.
func (o *OneWireBus) ReadDevice(identity string) (float64, error) {
	addr, err := parseIdentity(identity)
	if err != nil {
		return 0, err
	}
	rom := romFrame(addr, cmdConvertTemp)
	// Strong pull-up powers parasitic devices through the conversion.
	if err := o.bus.Tx(rom, nil, onewire.StrongPullup); err != nil {
		return 0, fmt.Errorf("periphio: 1-wire convert %s: %w", identity, err)
	}
	scratchpad := make([]byte, 9)
	if err := o.bus.Tx(romFrame(addr, cmdReadScratchpad), scratchpad, onewire.WeakPullup); err != nil {
		return 0, fmt.Errorf("periphio: 1-wire read %s: %w", identity, err)
	}
	raw := int16(binary.LittleEndian.Uint16(scratchpad[:2]))
	return float64(raw) / 16.0, nil
}

// Close releases the bus handle.
func (o *OneWireBus) Close() error {
	if o == nil || o.bus == nil {
		return nil
	}
	return o.bus.Close()
}

func romFrame(addr uint64, cmd byte) []byte {
	frame := make([]byte, 10)
	frame[0] = cmdMatchROM
	binary.LittleEndian.PutUint64(frame[1:9], addr)
	frame[9] = cmd
	return frame
}

func formatIdentity(addr uint64) string {
	return fmt.Sprintf("%016X", addr)
}

func parseIdentity(identity string) (uint64, error) {
	addr, err := strconv.ParseUint(identity, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("periphio: malformed 1-wire identity %q: %w", identity, err)
	}
	return addr, nil
}
