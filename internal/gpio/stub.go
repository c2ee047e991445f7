//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// ChipWriter is not available on non-Linux platforms.
type ChipWriter struct{}

// NewChipWriter returns an error on non-Linux platforms.
func NewChipWriter(chip string, pins []int, activeLow bool) (*ChipWriter, error) {
	return nil, errUnsupported
}

func (w *ChipWriter) Write(pin int, asserted bool) error { return errUnsupported }
func (w *ChipWriter) Close() error                       { return nil }

// RpioWriter is not available on non-Linux platforms.
type RpioWriter struct{}

// NewRpioWriter returns an error on non-Linux platforms.
func NewRpioWriter(pins []int, activeLow bool) (*RpioWriter, error) {
	return nil, errUnsupported
}

func (w *RpioWriter) Write(pin int, asserted bool) error { return errUnsupported }
func (w *RpioWriter) Close() error                       { return nil }
