package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sweeney/brew-controller/internal/actuator"
	"github.com/sweeney/brew-controller/internal/config"
	"github.com/sweeney/brew-controller/internal/gpio"
	"github.com/sweeney/brew-controller/internal/pulse"
	"github.com/sweeney/brew-controller/internal/sensor"
)

// rig is the pump hardware: stepper driver lines and home switch.
type rig struct {
	train   *pulse.Train
	stepper *actuator.Stepper
	home    actuator.Probe

	// lines are closed by rig.Close. driver lines pass to the stepper once
	// it exists.
	lines  []io.Closer
	driver []io.Closer
}

func openRig(cfg *config.Config) (*rig, error) {
	r := &rig{}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	c := cfg.GPIO
	step, err := gpio.NewRealOutput(c.Chip, c.StepPin, false)
	if err != nil {
		return nil, fmt.Errorf("init step line: %w", err)
	}
	r.lines = append(r.lines, step)

	dir, err := gpio.NewRealOutput(c.Chip, c.DirPin, false)
	if err != nil {
		return nil, fmt.Errorf("init dir line: %w", err)
	}
	r.driver = append(r.driver, dir)

	// Enable is active low on the driver.
	enable, err := gpio.NewRealOutput(c.Chip, c.EnablePin, true)
	if err != nil {
		return nil, fmt.Errorf("init enable line: %w", err)
	}
	r.driver = append(r.driver, enable)

	homeLine, err := gpio.NewRealInput(c.Chip, c.HomePin, true)
	if err != nil {
		return nil, fmt.Errorf("init home switch: %w", err)
	}
	home := gpio.NewDebouncer(homeLine, c.HomeDebounce, nil)
	r.home = home
	r.lines = append(r.lines, home)

	r.train = pulse.NewTrain(step, cfg.Pulse)
	stepper, err := actuator.New(cfg.Actuator, r.train, enable, dir)
	if err != nil {
		return nil, err
	}
	r.stepper = stepper
	ok = true
	return r, nil
}

// Close stops the pump and releases every line.
func (r *rig) Close() error {
	var errs []error
	if r.stepper != nil {
		errs = append(errs, r.stepper.Close())
	} else {
		for _, c := range r.driver {
			errs = append(errs, c.Close())
		}
	}
	if r.train != nil {
		errs = append(errs, r.train.Halt())
	}
	for i := len(r.lines) - 1; i >= 0; i-- {
		errs = append(errs, r.lines[i].Close())
	}
	return errors.Join(errs...)
}

// sensors is the serial link to the sensor MCU.
type sensors struct {
	pressure    *sensor.Slot
	temperature *sensor.Slot
	bridge      *sensor.Bridge
	done        chan error
}

func openSensors(ctx context.Context, cfg config.SensorConfig) (*sensors, error) {
	port, err := sensor.OpenSerial(cfg.Port, cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	s := &sensors{
		pressure:    sensor.NewSlot("pressure", cfg.MaxAge),
		temperature: sensor.NewSlot("temperature", cfg.MaxAge),
		done:        make(chan error, 1),
	}
	s.bridge = sensor.NewBridge(port, s.pressure, s.temperature)

	go func() {
		err := s.bridge.Run(ctx)
		if err != nil {
			log.Printf("sensor: link lost after %d lines: %v", s.bridge.Lines(), err)
		}
		s.done <- err
	}()
	return s, nil
}

// await blocks until the pressure sensor has produced a valid reading.
func (s *sensors) await(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var last error
	for {
		if _, last = s.pressure.Read(); last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sensor: no pressure reading within %v: %w", timeout, last)
		case err := <-s.done:
			return fmt.Errorf("sensor: link closed: %w", err)
		case <-ticker.C:
		}
	}
}
