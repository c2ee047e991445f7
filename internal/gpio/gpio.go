// Package gpio provides relay outputs with hardware abstraction.
// Real implementations use the Linux GPIO character device, /dev/gpiomem
// or a PCF8574 I2C port expander. The fake implementation allows testing
// without hardware.
package gpio

import "github.com/sweeney/motor-valve/internal/logic"

// Writer drives logical output pins. Asserted means the relay is energized;
// each implementation maps that onto its electrical level.
type Writer interface {
	logic.SignalSink

	// Close drives every output inactive and releases resources.
	Close() error
}

// Driver names accepted by configuration.
const (
	DriverGPIOCDev = "gpiocdev"
	DriverRpio     = "rpio"
	DriverPCF8574  = "pcf8574"
	DriverFake     = "fake"
)

// DefaultChip is the GPIO character device exposing the Pi header.
const DefaultChip = "gpiochip0"

// Consumer is the label attached to requested GPIO lines.
const Consumer = "motor-valve"
