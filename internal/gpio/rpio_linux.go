//go:build linux

package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// RpioWriter drives relay outputs through the memory-mapped BCM2835 GPIO
// registers. Only one RpioWriter may be open at a time because rpio keeps
// the mapping in package state.
type RpioWriter struct {
	pins      []rpio.Pin
	activeLow bool
}

// NewRpioWriter maps GPIO memory and configures pins as inactive outputs.
func NewRpioWriter(pins []int, activeLow bool) (*RpioWriter, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open rpio: %w", err)
	}

	w := &RpioWriter{activeLow: activeLow}
	for _, p := range pins {
		pin := rpio.Pin(p)
		pin.Write(w.level(false))
		pin.Output()
		w.pins = append(w.pins, pin)
	}
	return w, nil
}

func (w *RpioWriter) level(asserted bool) rpio.State {
	if asserted != w.activeLow {
		return rpio.High
	}
	return rpio.Low
}

// Write sets a pin high or low according to the active level.
func (w *RpioWriter) Write(pin int, asserted bool) error {
	for _, p := range w.pins {
		if int(p) == pin {
			p.Write(w.level(asserted))
			return nil
		}
	}
	return fmt.Errorf("rpio pin %d was not configured", pin)
}

// Close turns every relay off and unmaps GPIO memory.
func (w *RpioWriter) Close() error {
	for _, p := range w.pins {
		p.Write(w.level(false))
	}
	w.pins = nil
	return rpio.Close()
}
