package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/motor-valve/internal/gpio"
	"github.com/sweeney/motor-valve/internal/logic"
)

const minimalYAML = `
valves:
  - name: pool
    open_pin: 17
    close_pin: 27
    start_angle: 0
    max_angle: 90
    travel_time: 90s
`

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	require.Equal(t, DefaultPoll, cfg.Poll)
	require.Equal(t, DefaultHeartbeat, cfg.Heartbeat)
	require.Equal(t, DefaultHTTPAddr, cfg.HTTP)
	require.Equal(t, DefaultTopicPrefix, cfg.MQTT.TopicPrefix)
	require.Equal(t, DefaultBufferSize, cfg.MQTT.BufferSize)
	require.Empty(t, cfg.MQTT.Broker)
	require.True(t, cfg.Calibration.Reanchor)
	require.False(t, cfg.Calibration.OnStart)

	require.Len(t, cfg.Outputs, 1)
	require.Equal(t, DefaultOutputName, cfg.Outputs[0].Name)
	require.Equal(t, gpio.DriverGPIOCDev, cfg.Outputs[0].Driver)
	require.Equal(t, gpio.DefaultChip, cfg.Outputs[0].Chip)

	require.Len(t, cfg.Valves, 1)
	v := cfg.Valves[0]
	require.Equal(t, DefaultOutputName, v.Output)
	require.Equal(t, string(logic.CalibrateTowardStart), v.CalibrationDirection)
	require.Equal(t, 90*time.Second, v.TravelTime)
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
poll: 20ms
heartbeat: 0s
log_level: debug
http: ""
mqtt:
  broker: mqtt://broker.local:1883
  client_id: pool-pi
  topic_prefix: /garden/pool/
  buffer_size: 10
calibration:
  on_start: true
  interval: 24h
  reanchor: false
outputs:
  - name: relays
    driver: pcf8574
    active_low: true
  - name: header
    driver: rpio
valves:
  - name: solar
    output: relays
    open_pin: 0
    close_pin: 1
    start_angle: 0
    max_angle: 90
    travel_time: 90s
    calibration_direction: max
  - name: heatpump
    output: header
    open_pin: 22
    close_pin: 23
    start_angle: 10
    max_angle: 100
    travel_time: 1m
`))
	require.NoError(t, err)

	require.Equal(t, 20*time.Millisecond, cfg.Poll)
	require.Zero(t, cfg.Heartbeat)
	require.Empty(t, cfg.HTTP)
	require.Equal(t, "tcp://broker.local:1883", cfg.MQTT.Broker)
	require.Equal(t, "garden/pool", cfg.MQTT.TopicPrefix)
	require.True(t, cfg.Calibration.OnStart)
	require.Equal(t, 24*time.Hour, cfg.Calibration.Interval)
	require.False(t, cfg.Calibration.Reanchor)

	require.Equal(t, DefaultI2CBus, cfg.Outputs[0].Bus)
	require.Equal(t, uint16(gpio.DefaultPCF8574Address), cfg.Outputs[0].Address)
	require.True(t, cfg.Outputs[0].ActiveLow)

	lc := cfg.Valves[0].Logic()
	require.Equal(t, "solar", lc.Label)
	require.Equal(t, logic.CalibrateTowardMax, lc.CalibrationDirection)
	require.NoError(t, lc.Validate())

	require.Equal(t, map[string][]int{
		"relays": {0, 1},
		"header": {22, 23},
	}, cfg.PinsByOutput())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no valves", `poll: 50ms`},
		{"zero poll", "poll: 0s\n" + minimalYAML},
		{"bad log level", "log_level: loud\n" + minimalYAML},
		{"bad broker scheme", "mqtt: {broker: 'http://x:1'}\n" + minimalYAML},
		{"wildcard prefix", "mqtt: {broker: 'x:1883', topic_prefix: 'a/#'}\n" + minimalYAML},
		{"unknown driver", `
outputs: [{name: o, driver: spi}]
valves: [{name: v, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}]`},
		{"two rpio outputs", `
outputs: [{name: a, driver: rpio}, {name: b, driver: rpio}]
valves: [{name: v, output: a, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}]`},
		{"duplicate output", `
outputs: [{name: a}, {name: a}]
valves: [{name: v, output: a, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}]`},
		{"unknown output", `
outputs: [{name: a}, {name: b}]
valves: [{name: v, output: c, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}]`},
		{"ambiguous output", `
outputs: [{name: a}, {name: b}]
valves: [{name: v, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}]`},
		{"duplicate valve", `
valves:
  - {name: v, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}
  - {name: v, open_pin: 3, close_pin: 4, max_angle: 90, travel_time: 1s}`},
		{"topic unsafe name", `
valves: [{name: "a/b", open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}]`},
		{"shared pin", `
valves:
  - {name: a, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}
  - {name: b, open_pin: 2, close_pin: 3, max_angle: 90, travel_time: 1s}`},
		{"pcf8574 pin range", `
outputs: [{name: x, driver: pcf8574}]
valves: [{name: v, open_pin: 7, close_pin: 8, max_angle: 90, travel_time: 1s}]`},
		{"pcf8574 address", `
outputs: [{name: x, driver: pcf8574, address: 0x80}]
valves: [{name: v, open_pin: 0, close_pin: 1, max_angle: 90, travel_time: 1s}]`},
		{"inverted range", `
valves: [{name: v, open_pin: 1, close_pin: 2, start_angle: 90, max_angle: 90, travel_time: 1s}]`},
		{"bad direction", `
valves: [{name: v, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s, calibration_direction: up}]`},
		{"malformed yaml", "valves: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestParseSentinelErrors(t *testing.T) {
	_, err := Parse([]byte(`poll: 50ms`))
	require.ErrorIs(t, err, ErrNoValves)

	_, err = Parse([]byte(`
valves: [{name: v, open_pin: 1, close_pin: 1, max_angle: 90, travel_time: 1s}]`))
	require.ErrorIs(t, err, logic.ErrInvalidConfig)
}

func TestSharedPinNumbersOnDifferentOutputs(t *testing.T) {
	_, err := Parse([]byte(`
outputs: [{name: a}, {name: b, driver: fake}]
valves:
  - {name: x, output: a, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}
  - {name: y, output: b, open_pin: 1, close_pin: 2, max_angle: 90, travel_time: 1s}`))
	require.NoError(t, err)
}

func TestNormalizeBroker(t *testing.T) {
	tests := map[string]string{
		"":                    "",
		"localhost:1883":      "tcp://localhost:1883",
		"mqtt://host:1883":    "tcp://host:1883",
		"mqtts://host:8883":   "ssl://host:8883",
		"tcp://host:1883":     "tcp://host:1883",
		"ws://host:9001/mqtt": "ws://host:9001/mqtt",
	}
	for in, want := range tests {
		require.Equal(t, want, normalizeBroker(in), in)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valves.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "pool", cfg.Valves[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestForceFake(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	cfg.ForceFake()
	for _, o := range cfg.Outputs {
		require.Equal(t, gpio.DriverFake, o.Driver)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "motor-valve.example.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Outputs, 2)
	require.Equal(t, uint16(0x20), cfg.Outputs[0].Address)
	require.Equal(t, "gpiochip0", cfg.Outputs[1].Chip)

	require.Len(t, cfg.Valves, 3)
	require.Equal(t, logic.CalibrateTowardMax, cfg.Valves[1].Logic().CalibrationDirection)
	require.Equal(t, logic.CalibrateTowardStart, cfg.Valves[2].Logic().CalibrationDirection)
	require.Equal(t, 2*time.Minute, cfg.Valves[2].TravelTime)
	require.Equal(t, []int{0, 1, 2, 3}, cfg.PinsByOutput()["relays"])
}
