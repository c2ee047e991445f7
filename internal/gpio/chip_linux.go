//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// ChipWriter drives relay outputs on a Linux GPIO character device.
type ChipWriter struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewChipWriter requests pins (BCM offsets) on chip as outputs, initially
// inactive. With activeLow the kernel inverts the electrical level, which
// suits the common low-triggered relay boards.
func NewChipWriter(chip string, pins []int, activeLow bool) (*ChipWriter, error) {
	if chip == "" {
		chip = DefaultChip
	}
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &ChipWriter{chip: c, lines: make(map[int]*gpiocdev.Line, len(pins))}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	for _, pin := range pins {
		if _, ok := w.lines[pin]; ok {
			continue
		}
		line, err := c.RequestLine(pin, opts...)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		w.lines[pin] = line
	}
	return w, nil
}

// Write sets the logical value of a requested line.
func (w *ChipWriter) Write(pin int, asserted bool) error {
	line, ok := w.lines[pin]
	if !ok {
		return fmt.Errorf("gpio pin %d was not requested", pin)
	}
	v := 0
	if asserted {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close turns every relay off before releasing the lines and the chip.
func (w *ChipWriter) Close() error {
	var errs []error
	for pin, line := range w.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(w.lines, pin)
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}
	return errors.Join(errs...)
}
