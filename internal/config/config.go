// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/motor-valve/internal/gpio"
	"github.com/sweeney/motor-valve/internal/logger"
	"github.com/sweeney/motor-valve/internal/logic"
)

const (
	// DefaultConfigFilename is used when no path is given.
	DefaultConfigFilename = "motor-valve.yaml"

	DefaultPoll        = 50 * time.Millisecond
	DefaultHeartbeat   = 15 * time.Minute
	DefaultHTTPAddr    = ":8080"
	DefaultClientID    = "motor-valve"
	DefaultTopicPrefix = "pool/valves"
	DefaultBufferSize  = 100
	DefaultI2CBus      = "/dev/i2c-1"
	// DefaultOutputName is the implicit gpiocdev output used when none is configured.
	DefaultOutputName = "gpio"
)

// ErrNoValves is returned when the configuration defines no valves.
var ErrNoValves = errors.New("at least one valve must be configured")

// Config is the complete daemon configuration.
type Config struct {
	// Poll is the interval between valve ticks.
	Poll time.Duration `yaml:"poll"`
	// Heartbeat is the interval between HEARTBEAT system events; 0 disables.
	Heartbeat time.Duration `yaml:"heartbeat"`
	LogLevel  string        `yaml:"log_level"`
	// HTTP is the status server listen address; empty disables it.
	HTTP        string            `yaml:"http"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Outputs     []OutputConfig    `yaml:"outputs"`
	Valves      []ValveConfig     `yaml:"valves"`
}

// MQTTConfig configures the broker connection. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	// BufferSize is the number of messages kept while disconnected.
	BufferSize int `yaml:"buffer_size"`
}

// CalibrationConfig schedules calibration runs.
type CalibrationConfig struct {
	OnStart bool `yaml:"on_start"`
	// Interval between periodic calibrations; 0 disables them.
	Interval time.Duration `yaml:"interval"`
	// Reanchor drives each valve to its calibrated end-stop afterwards so
	// the estimate matches the physical position.
	Reanchor bool `yaml:"reanchor"`
}

// OutputConfig names a signal sink that valves are wired to.
type OutputConfig struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
	// Chip is the GPIO character device for the gpiocdev driver.
	Chip string `yaml:"chip"`
	// Bus and Address locate a pcf8574 expander.
	Bus       string `yaml:"bus"`
	Address   uint16 `yaml:"address"`
	ActiveLow bool   `yaml:"active_low"`
}

// ValveConfig describes one motorized valve.
type ValveConfig struct {
	Name                 string        `yaml:"name"`
	Output               string        `yaml:"output"`
	OpenPin              int           `yaml:"open_pin"`
	ClosePin             int           `yaml:"close_pin"`
	StartAngle           int           `yaml:"start_angle"`
	MaxAngle             int           `yaml:"max_angle"`
	TravelTime           time.Duration `yaml:"travel_time"`
	CalibrationDirection string        `yaml:"calibration_direction"`
}

// Logic converts the valve entry into the state machine configuration.
func (v ValveConfig) Logic() logic.Config {
	return logic.Config{
		Label:                v.Name,
		OpenPin:              v.OpenPin,
		ClosePin:             v.ClosePin,
		StartAngle:           v.StartAngle,
		MaxAngle:             v.MaxAngle,
		TravelTime:           v.TravelTime,
		CalibrationDirection: logic.CalibrationDirection(v.CalibrationDirection),
	}
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Poll:      DefaultPoll,
		Heartbeat: DefaultHeartbeat,
		LogLevel:  "info",
		HTTP:      DefaultHTTPAddr,
		MQTT: MQTTConfig{
			ClientID:    DefaultClientID,
			TopicPrefix: DefaultTopicPrefix,
			BufferSize:  DefaultBufferSize,
		},
		Calibration: CalibrationConfig{Reanchor: true},
	}
}

// Load reads the YAML file at path over the defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(contents)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(contents []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	c.MQTT.TopicPrefix = strings.Trim(c.MQTT.TopicPrefix, "/")
	c.MQTT.Broker = normalizeBroker(c.MQTT.Broker)

	if len(c.Outputs) == 0 {
		c.Outputs = []OutputConfig{{Name: DefaultOutputName, Driver: gpio.DriverGPIOCDev}}
	}
	for i := range c.Outputs {
		o := &c.Outputs[i]
		if o.Driver == "" {
			o.Driver = gpio.DriverGPIOCDev
		}
		switch o.Driver {
		case gpio.DriverGPIOCDev:
			if o.Chip == "" {
				o.Chip = gpio.DefaultChip
			}
		case gpio.DriverPCF8574:
			if o.Bus == "" {
				o.Bus = DefaultI2CBus
			}
			if o.Address == 0 {
				o.Address = gpio.DefaultPCF8574Address
			}
		}
	}

	for i := range c.Valves {
		v := &c.Valves[i]
		if v.Output == "" && len(c.Outputs) == 1 {
			v.Output = c.Outputs[0].Name
		}
		if v.CalibrationDirection == "" {
			v.CalibrationDirection = string(logic.CalibrateTowardStart)
		}
	}
}

// normalizeBroker maps mqtt:// and mqtts:// onto the schemes paho expects
// and adds tcp:// to bare host:port values.
func normalizeBroker(broker string) string {
	if broker == "" {
		return ""
	}
	if !strings.Contains(broker, "://") {
		return "tcp://" + broker
	}
	switch {
	case strings.HasPrefix(broker, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(broker, "mqtt://")
	case strings.HasPrefix(broker, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(broker, "mqtts://")
	}
	return broker
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Poll <= 0 {
		return fmt.Errorf("poll must be > 0, got %v", c.Poll)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat)
	}
	if _, ok := logger.ParseLogLevel(c.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if err := c.MQTT.validate(); err != nil {
		return err
	}
	if c.Calibration.Interval < 0 {
		return fmt.Errorf("calibration.interval must not be negative, got %v", c.Calibration.Interval)
	}

	outputs, err := c.validateOutputs()
	if err != nil {
		return err
	}
	return c.validateValves(outputs)
}

func (m MQTTConfig) validate() error {
	if m.Broker == "" {
		return nil
	}
	u, err := url.Parse(m.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("mqtt.broker: missing host in %q", m.Broker)
	}
	if m.BufferSize <= 0 {
		return fmt.Errorf("mqtt.buffer_size must be > 0, got %d", m.BufferSize)
	}
	if strings.ContainsAny(m.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt.topic_prefix %q must not contain wildcards", m.TopicPrefix)
	}
	return nil
}

func (c *Config) validateOutputs() (map[string]OutputConfig, error) {
	byName := make(map[string]OutputConfig, len(c.Outputs))
	rpioCount := 0
	for i, o := range c.Outputs {
		if o.Name == "" {
			return nil, fmt.Errorf("outputs[%d]: name is required", i)
		}
		if _, dup := byName[o.Name]; dup {
			return nil, fmt.Errorf("outputs[%d]: duplicate name %q", i, o.Name)
		}
		switch o.Driver {
		case gpio.DriverGPIOCDev, gpio.DriverFake:
		case gpio.DriverRpio:
			rpioCount++
		case gpio.DriverPCF8574:
			if o.Address < 0x03 || o.Address > 0x77 {
				return nil, fmt.Errorf("outputs[%d]: pcf8574 address 0x%02X outside 0x03-0x77", i, o.Address)
			}
		default:
			return nil, fmt.Errorf("outputs[%d]: unknown driver %q", i, o.Driver)
		}
		byName[o.Name] = o
	}
	if rpioCount > 1 {
		return nil, fmt.Errorf("only one rpio output may be configured, got %d", rpioCount)
	}
	return byName, nil
}

func (c *Config) validateValves(outputs map[string]OutputConfig) error {
	if len(c.Valves) == 0 {
		return ErrNoValves
	}

	names := make(map[string]bool, len(c.Valves))
	type outputPin struct {
		output string
		pin    int
	}
	pinOwner := make(map[outputPin]string)

	for i, v := range c.Valves {
		if v.Name == "" {
			return fmt.Errorf("valves[%d]: name is required", i)
		}
		if strings.ContainsAny(v.Name, "/+# \t") {
			return fmt.Errorf("valves[%d]: name %q must not contain '/', '+', '#' or whitespace", i, v.Name)
		}
		if names[v.Name] {
			return fmt.Errorf("valves[%d]: duplicate name %q", i, v.Name)
		}
		names[v.Name] = true

		out, ok := outputs[v.Output]
		if !ok {
			return fmt.Errorf("valve %q: unknown output %q", v.Name, v.Output)
		}
		if err := v.Logic().Validate(); err != nil {
			return fmt.Errorf("valve %q: %w", v.Name, err)
		}
		for _, pin := range []int{v.OpenPin, v.ClosePin} {
			if out.Driver == gpio.DriverPCF8574 && pin >= gpio.PCF8574Pins {
				return fmt.Errorf("valve %q: pcf8574 pin %d out of range 0-%d", v.Name, pin, gpio.PCF8574Pins-1)
			}
			key := outputPin{v.Output, pin}
			if owner, taken := pinOwner[key]; taken {
				return fmt.Errorf("valve %q: pin %d on output %q already used by valve %q", v.Name, pin, v.Output, owner)
			}
			pinOwner[key] = v.Name
		}
	}
	return nil
}

// ForceFake switches every output to the fake driver.
func (c *Config) ForceFake() {
	for i := range c.Outputs {
		c.Outputs[i].Driver = gpio.DriverFake
	}
}

// PinsByOutput lists the pins each output must drive, in valve order.
func (c *Config) PinsByOutput() map[string][]int {
	pins := make(map[string][]int, len(c.Outputs))
	for _, v := range c.Valves {
		pins[v.Output] = append(pins[v.Output], v.OpenPin, v.ClosePin)
	}
	return pins
}
