//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives a line on the Linux GPIO character device.
type RealOutput struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewRealOutput requests offset on chip as an output, initially inactive.
// With activeLow set, logical active drives the pin low.
func NewRealOutput(chipName string, offset int, activeLow bool) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("brew-controller"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(offset, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}

	return &RealOutput{chip: chip, line: line, activeLow: activeLow}, nil
}

// Set drives the line.
func (o *RealOutput) Set(active bool) error {
	v := 0
	if active {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.line.Offset(), err)
	}
	return nil
}

// Close releases GPIO resources.
// Drives the line inactive, then reconfigures it to input biased towards
// the inactive level so the driver is never left energized.
func (o *RealOutput) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("deassert pin: %w", err))
		}
		bias := gpiocdev.WithPullDown
		if ReleaseBias(o.activeLow) == BiasPullUp {
			bias = gpiocdev.WithPullUp
		}
		if err := o.line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealInput reads a line on the Linux GPIO character device.
type RealInput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealInput requests offset on chip as an input with pull-up.
// With activeLow set, a pin pulled to ground reads as active.
func NewRealInput(chipName string, offset int, activeLow bool) (*RealInput, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("brew-controller"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(offset, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request input pin %d: %w", offset, err)
	}

	return &RealInput{chip: chip, line: line}, nil
}

// Active returns the logical state of the line.
func (i *RealInput) Active() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", i.line.Offset(), err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
func (i *RealInput) Close() error {
	var errs []error
	if i.line != nil {
		if err := i.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	if i.chip != nil {
		if err := i.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
