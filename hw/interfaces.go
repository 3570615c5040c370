package hw

// AnalogLine reads raw ADC counts from an analog-capable pin.
//
// Implementations are expected to bound the read by the converter's own
// timing; the registry never retries analog reads.
type AnalogLine interface {
	ReadAnalog(pin int) (float64, error)
}

// DigitalLine samples the logic level of a pin as 0 or 1.
type DigitalLine interface {
	ReadDigital(pin int) (float64, error)
}

// OneWireLine drives the physical single-wire bus on one pin.
//
// Init is called once when the bus is first attached; Search enumerates the
// identity codes of devices present on the wire, and ReadDevice performs a
// single conversion for the addressed device. All calls are serialized by the
// coordinator.
type OneWireLine interface {
	Init(pin int) error
	Search() ([]string, error)
	ReadDevice(address string) (float64, error)
}

// BusLine performs addressed-bus register transfers.
//
// The bus is brought up once by the platform layer; Initialized reports
// whether that happened. ReadRegisters transfers length bytes starting at the
// given register of the device answering at addr.
type BusLine interface {
	Initialized() bool
	ReadRegisters(addr uint16, register uint8, length int) ([]byte, error)
}
