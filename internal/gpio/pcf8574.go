package gpio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sweeney/motor-valve/internal/i2c"
)

// PCF8574Pins is the number of quasi-bidirectional ports on the expander.
const PCF8574Pins = 8

// DefaultPCF8574Address is the address with A0..A2 tied low.
const DefaultPCF8574Address = 0x20

// ByteWriter sends raw bytes to one I2C device. *i2c.Dev satisfies it.
type ByteWriter interface {
	Write(p []byte) error
}

// PCF8574 drives relays on an 8-bit I2C port expander. The chip has no
// addressable registers: every write sets all eight ports, so the expander
// keeps a shadow latch. Several valves may share one PCF8574.
type PCF8574 struct {
	mu        sync.Mutex
	dev       ByteWriter
	closer    io.Closer
	activeLow bool
	latch     byte
}

// NewPCF8574 wraps dev and writes the all-inactive latch.
func NewPCF8574(dev ByteWriter, activeLow bool) (*PCF8574, error) {
	p := &PCF8574{dev: dev, activeLow: activeLow}
	if activeLow {
		p.latch = 0xFF
	}
	if err := dev.Write([]byte{p.latch}); err != nil {
		return nil, fmt.Errorf("init pcf8574: %w", err)
	}
	return p, nil
}

// OpenPCF8574 opens the I2C bus at path and the expander at addr.
func OpenPCF8574(path string, addr uint16, activeLow bool) (*PCF8574, error) {
	bus, err := i2c.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := NewPCF8574(bus.Dev(addr), activeLow)
	if err != nil {
		bus.Close()
		return nil, err
	}
	p.closer = bus
	return p, nil
}

// Write updates one port and pushes the whole latch to the device. On
// failure the latch keeps the requested state so the next write retries it.
func (p *PCF8574) Write(pin int, asserted bool) error {
	if pin < 0 || pin >= PCF8574Pins {
		return fmt.Errorf("pcf8574 pin %d out of range 0-%d", pin, PCF8574Pins-1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bit := byte(1) << pin
	if asserted != p.activeLow {
		p.latch |= bit
	} else {
		p.latch &^= bit
	}
	return p.dev.Write([]byte{p.latch})
}

// Latch returns the last byte sent (or attempted) to the expander.
func (p *PCF8574) Latch() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latch
}

// Close turns every port inactive and closes the bus if this expander
// opened it.
func (p *PCF8574) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latch = 0
	if p.activeLow {
		p.latch = 0xFF
	}
	var errs []error
	if err := p.dev.Write([]byte{p.latch}); err != nil {
		errs = append(errs, fmt.Errorf("release pcf8574: %w", err))
	}
	if p.closer != nil {
		if err := p.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
		}
		p.closer = nil
	}
	return errors.Join(errs...)
}
