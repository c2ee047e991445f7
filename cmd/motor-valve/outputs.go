package main

import (
	"errors"
	"fmt"

	"github.com/sweeney/motor-valve/internal/config"
	"github.com/sweeney/motor-valve/internal/gpio"
)

// openOutputs opens every configured output with the pins its valves use.
func openOutputs(cfg *config.Config) (map[string]gpio.Writer, error) {
	pins := cfg.PinsByOutput()
	outputs := make(map[string]gpio.Writer, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		w, err := openOutput(o, pins[o.Name])
		if err != nil {
			closeOutputs(outputs)
			return nil, fmt.Errorf("open output %q: %w", o.Name, err)
		}
		outputs[o.Name] = w
	}
	return outputs, nil
}

func openOutput(o config.OutputConfig, pins []int) (gpio.Writer, error) {
	switch o.Driver {
	case gpio.DriverGPIOCDev:
		w, err := gpio.NewChipWriter(o.Chip, pins, o.ActiveLow)
		if err != nil {
			return nil, err
		}
		return w, nil
	case gpio.DriverRpio:
		w, err := gpio.NewRpioWriter(pins, o.ActiveLow)
		if err != nil {
			return nil, err
		}
		return w, nil
	case gpio.DriverPCF8574:
		w, err := gpio.OpenPCF8574(o.Bus, o.Address, o.ActiveLow)
		if err != nil {
			return nil, err
		}
		return w, nil
	case gpio.DriverFake:
		return gpio.NewFakeWriter(), nil
	}
	return nil, fmt.Errorf("unknown driver %q", o.Driver)
}

// closeOutputs drives every output inactive and releases it.
func closeOutputs(outputs map[string]gpio.Writer) error {
	var errs []error
	for name, w := range outputs {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
