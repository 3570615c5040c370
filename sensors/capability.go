package sensors

import "strings"

// Interface identifies how a sensor type is physically read.
type Interface int

const (
	// InterfaceAnalog reads ADC counts from an analog-capable pin.
	InterfaceAnalog Interface = iota
	// InterfaceDigital samples the logic level of a pin.
	InterfaceDigital
	// InterfaceOneWire reads through the shared single-wire bus.
	InterfaceOneWire
	// InterfaceI2C reads registers through the addressed two-wire bus.
	InterfaceI2C
	// InterfaceUnknown marks a sensor type outside the closed capability
	// table; it is served by a best-effort legacy inference path.
	InterfaceUnknown
)

// String returns the interface name used in logs.
func (i Interface) String() string {
	switch i {
	case InterfaceAnalog:
		return "analog"
	case InterfaceDigital:
		return "digital"
	case InterfaceOneWire:
		return "one-wire"
	case InterfaceI2C:
		return "i2c"
	default:
		return "unknown"
	}
}

// ValueSpec describes one derived value of a multi-value device: its resolved
// sensor type, the byte range it occupies within a single bus transfer, and
// the vocabulary the remote processor expects.
type ValueSpec struct {
	Type       string
	RemoteType string
	Offset     int
	Length     int
}

// Capability is the static description of a sensor type.
type Capability struct {
	Interface  Interface
	Family     string
	RemoteType string
	// Addressed-bus fields.
	BusAddress     uint16
	Register       uint8
	TransferLength int
	MultiValue     bool
	Values         []ValueSpec
	// Inferred marks capabilities produced by the legacy inference path
	// rather than the closed table.
	Inferred bool
}

// capabilities is the closed table of known sensor types.
var capabilities = map[string]Capability{
	"soil-moisture": {
		Interface:  InterfaceAnalog,
		Family:     "capacitive",
		RemoteType: "moisture",
	},
	"light": {
		Interface:  InterfaceAnalog,
		Family:     "photoresistor",
		RemoteType: "light",
	},
	"rain": {
		Interface:  InterfaceDigital,
		Family:     "contact",
		RemoteType: "rain",
	},
	"float-switch": {
		Interface:  InterfaceDigital,
		Family:     "contact",
		RemoteType: "level",
	},
	"soil-temp": {
		Interface:  InterfaceOneWire,
		Family:     "thermal",
		RemoteType: "temperature",
	},
	"combo-env": {
		Interface:      InterfaceI2C,
		Family:         "combo-env",
		BusAddress:     0x44,
		Register:       0x00,
		TransferLength: 6,
		MultiValue:     true,
		Values: []ValueSpec{
			{Type: "combo-env-temp", RemoteType: "temperature", Offset: 0, Length: 2},
			{Type: "combo-env-humidity", RemoteType: "humidity", Offset: 3, Length: 2},
		},
	},
}

// LookupCapability resolves a sensor type against the closed table.
func LookupCapability(sensorType string) (Capability, bool) {
	cap, ok := capabilities[sensorType]
	return cap, ok
}

// InferCapability is the legacy fallback for sensor types outside the table.
// It guesses the interface from the type name and keeps the raw type as the
// remote vocabulary; callers should treat the result as best effort.
func InferCapability(sensorType string) Capability {
	t := strings.ToLower(sensorType)
	cap := Capability{
		Interface:  InterfaceUnknown,
		Family:     "generic",
		RemoteType: sensorType,
		Inferred:   true,
	}
	switch {
	case strings.Contains(t, "switch"), strings.Contains(t, "rain"), strings.Contains(t, "door"), strings.Contains(t, "button"):
		cap.Interface = InterfaceDigital
	default:
		cap.Interface = InterfaceAnalog
	}
	return cap
}
