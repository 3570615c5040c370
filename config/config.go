package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// OperatingMode governs whether and when the scheduler measures a sensor.
type OperatingMode string

const (
	// ModeContinuous measures automatically once the sensor interval elapses.
	ModeContinuous OperatingMode = "continuous"
	// ModePaused suppresses automatic and manual measurement.
	ModePaused OperatingMode = "paused"
	// ModeOnDemand measures only on an explicit external trigger.
	ModeOnDemand OperatingMode = "on_demand"
	// ModeScheduled measures only on an explicit external trigger; kept
	// distinct from on_demand for future batch scheduling.
	ModeScheduled OperatingMode = "scheduled"
)

// Valid reports whether the mode is one of the known operating modes.
func (m OperatingMode) Valid() bool {
	switch m {
	case ModeContinuous, ModePaused, ModeOnDemand, ModeScheduled:
		return true
	}
	return false
}

// NodeConfig identifies this device within the greenhouse network.
type NodeConfig struct {
	DeviceID string `yaml:"device_id"`
	Zone     string `yaml:"zone"`
	Firmware string `yaml:"firmware,omitempty"`
}

// PinsConfig describes the addressable pins of the board.
type PinsConfig struct {
	Count  int   `yaml:"count"`
	Analog []int `yaml:"analog,omitempty"`
	// I2CData and I2CClock are reserved for the addressed bus at bring-up.
	I2CData  int `yaml:"i2c_data"`
	I2CClock int `yaml:"i2c_clock"`
}

// SensorConfig configures a single sensor slot.
type SensorConfig struct {
	Pin      int           `yaml:"pin"`
	Type     string        `yaml:"type"`
	Name     string        `yaml:"name,omitempty"`
	Subzone  string        `yaml:"subzone,omitempty"`
	Active   *bool         `yaml:"active,omitempty"`
	Mode     OperatingMode `yaml:"mode,omitempty"`
	Interval Duration      `yaml:"interval,omitempty"`
	// Address is the fixed-length one-wire device identity (16 hex digits).
	Address string `yaml:"address,omitempty"`
	// BusAddress overrides the capability default address on the I2C bus.
	BusAddress uint16 `yaml:"bus_address,omitempty"`
}

// IsActive resolves the optional active flag, defaulting to true.
func (s SensorConfig) IsActive() bool {
	if s.Active == nil {
		return true
	}
	return *s.Active
}

// BreakerConfig tunes the circuit breaker guarding the offload endpoint.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold,omitempty"`
	ResetTimeout     Duration `yaml:"reset_timeout,omitempty"`
}

// OffloadConfig describes the remote processing endpoint.
type OffloadConfig struct {
	URL     string        `yaml:"url"`
	Timeout Duration      `yaml:"timeout,omitempty"`
	Breaker BreakerConfig `yaml:"breaker,omitempty"`
}

// PublishConfig describes the MQTT publish target for readings.
type PublishConfig struct {
	Broker      string   `yaml:"broker"`
	ClientID    string   `yaml:"client_id,omitempty"`
	Username    string   `yaml:"username,omitempty"`
	Password    string   `yaml:"password,omitempty"`
	TopicPrefix string   `yaml:"topic_prefix,omitempty"`
	QoS         byte     `yaml:"qos,omitempty"`
	KeepAlive   Duration `yaml:"keep_alive,omitempty"`
	ConnectWait Duration `yaml:"connect_wait,omitempty"`
}

// StoreConfig locates the persistent key/value store.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// SchedulerConfig tunes the measurement loop.
type SchedulerConfig struct {
	Tick            Duration `yaml:"tick,omitempty"`
	DefaultInterval Duration `yaml:"default_interval,omitempty"`
}

// LokiConfig enables shipping logs to a Loki endpoint.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// TelemetryConfig controls the Prometheus metrics endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// Config is the root node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Pins      PinsConfig      `yaml:"pins"`
	Sensors   []SensorConfig  `yaml:"sensors,omitempty"`
	Offload   OffloadConfig   `yaml:"offload"`
	Publish   PublishConfig   `yaml:"publish,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

const (
	defaultPinCount         = 40
	defaultOffloadTimeout   = 5 * time.Second
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
	defaultTick             = time.Second
	defaultInterval         = 30 * time.Second
	defaultConnectWait      = 10 * time.Second
)

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pins.Count <= 0 {
		c.Pins.Count = defaultPinCount
	}
	if c.Offload.Timeout.Duration <= 0 {
		c.Offload.Timeout.Duration = defaultOffloadTimeout
	}
	if c.Offload.Breaker.FailureThreshold <= 0 {
		c.Offload.Breaker.FailureThreshold = defaultFailureThreshold
	}
	if c.Offload.Breaker.ResetTimeout.Duration <= 0 {
		c.Offload.Breaker.ResetTimeout.Duration = defaultResetTimeout
	}
	if c.Scheduler.Tick.Duration <= 0 {
		c.Scheduler.Tick.Duration = defaultTick
	}
	if c.Scheduler.DefaultInterval.Duration <= 0 {
		c.Scheduler.DefaultInterval.Duration = defaultInterval
	}
	if c.Publish.ConnectWait.Duration <= 0 {
		c.Publish.ConnectWait.Duration = defaultConnectWait
	}
	for i := range c.Sensors {
		if c.Sensors[i].Mode == "" {
			c.Sensors[i].Mode = ModeContinuous
		}
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.Node.DeviceID == "" {
		return fmt.Errorf("node device_id is required")
	}
	if c.Offload.URL == "" {
		return fmt.Errorf("offload url is required")
	}
	if c.Pins.I2CData == c.Pins.I2CClock {
		return fmt.Errorf("i2c data and clock pins must differ")
	}
	if err := c.validatePin(c.Pins.I2CData, "i2c_data"); err != nil {
		return err
	}
	if err := c.validatePin(c.Pins.I2CClock, "i2c_clock"); err != nil {
		return err
	}
	for _, analog := range c.Pins.Analog {
		if err := c.validatePin(analog, "analog"); err != nil {
			return err
		}
	}
	seen := make(map[int]string, len(c.Sensors))
	for _, sensor := range c.Sensors {
		if err := c.validatePin(sensor.Pin, "sensor"); err != nil {
			return err
		}
		if sensor.Type == "" {
			return fmt.Errorf("sensor on pin %d missing type", sensor.Pin)
		}
		if !sensor.Mode.Valid() {
			return fmt.Errorf("sensor on pin %d has unknown mode %q", sensor.Pin, sensor.Mode)
		}
		if prev, ok := seen[sensor.Pin]; ok && prev != sensor.Type {
			return fmt.Errorf("pin %d configured twice (%s and %s)", sensor.Pin, prev, sensor.Type)
		}
		seen[sensor.Pin] = sensor.Type
	}
	return nil
}

func (c *Config) validatePin(pin int, role string) error {
	if pin < 0 || pin >= c.Pins.Count {
		return fmt.Errorf("%s pin %d out of range (board has %d pins)", role, pin, c.Pins.Count)
	}
	return nil
}
