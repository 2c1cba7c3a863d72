// Package actuator drives the pump's stepper motor through a pulse generator
// and the driver's enable and direction lines.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/sweeney/brew-controller/internal/gpio"
	"github.com/sweeney/brew-controller/internal/pulse"
)

var (
	// ErrProgramming is returned when a speed could not be applied. The
	// stepper is disabled before the error is returned.
	ErrProgramming = errors.New("actuator: pulse programming failed")

	// ErrHomingTimeout is returned when the home switch never triggers.
	ErrHomingTimeout = errors.New("actuator: homing timed out")
)

// Direction of travel.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "REVERSE"
	}
	return "FORWARD"
}

// Config holds stepper calibration.
type Config struct {
	// CyclesPerPulse is the number of generator cycles per step pulse.
	CyclesPerPulse int `yaml:"cycles_per_pulse"`

	// MinFrequencyHz is the lowest generator frequency. Slower speeds are
	// raised to it.
	MinFrequencyHz int `yaml:"min_frequency_hz"`

	// HomingSpeed in steps per second. Negative travels in reverse.
	HomingSpeed   float64       `yaml:"homing_speed"`
	HomingTimeout time.Duration `yaml:"homing_timeout"`
	HomingPoll    time.Duration `yaml:"homing_poll"`
}

// DefaultConfig returns the calibration for the pump's driver.
func DefaultConfig() Config {
	return Config{
		CyclesPerPulse: 2,
		MinFrequencyHz: 2000,
		HomingSpeed:    -500,
		HomingTimeout:  30 * time.Second,
		HomingPoll:     5 * time.Millisecond,
	}
}

// State is a snapshot of the stepper.
type State struct {
	FrequencyHz int       `json:"frequency_hz"`
	Direction   Direction `json:"-"`
	Enabled     bool      `json:"enabled"`
}

// Probe reports whether a limit switch is pressed.
// gpio.Input and gpio.Debouncer both satisfy it.
type Probe interface {
	Active() (bool, error)
}

// Stepper is a non-blocking stepper motor driver. Speed changes return
// immediately; the pulse generator keeps emitting on its own.
// Safe for concurrent use.
type Stepper struct {
	cfg    Config
	gen    pulse.Generator
	enable gpio.Output
	dir    gpio.Output // active = reverse

	mu    sync.Mutex
	state State
}

// New creates a Stepper and puts it in the disabled state.
// On failure the lines are left as the failed disable found them.
func New(cfg Config, gen pulse.Generator, enable, dir gpio.Output) (*Stepper, error) {
	if cfg.CyclesPerPulse <= 0 {
		return nil, fmt.Errorf("actuator: cycles per pulse must be positive, got %d", cfg.CyclesPerPulse)
	}

	s := &Stepper{cfg: cfg, gen: gen, enable: enable, dir: dir}
	if err := s.dir.Set(false); err != nil {
		return nil, fmt.Errorf("actuator: init direction: %w", err)
	}
	if err := s.disable(); err != nil {
		return nil, fmt.Errorf("actuator: init: %w", err)
	}
	return s, nil
}

// SetSpeed sets the speed in steps per second. The sign chooses the
// direction; zero stops the motor.
func (s *Stepper) SetSpeed(speed float64) error {
	dir := Forward
	if speed < 0 {
		dir = Reverse
	}
	return s.SetSpeedDirection(speed, dir)
}

// SetSpeedDirection sets the speed magnitude with an explicit direction,
// ignoring the sign of speed.
func (s *Stepper) SetSpeedDirection(speed float64, dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Zero behaves exactly like Stop: direction is left alone.
	if speed == 0 {
		return s.disable()
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return s.fail(0, fmt.Errorf("speed %v is not finite", speed))
	}
	hz, err := s.frequencyFor(speed)
	if err != nil {
		return s.fail(0, err)
	}

	if err := s.dir.Set(dir == Reverse); err != nil {
		return s.fail(hz, fmt.Errorf("set direction: %w", err))
	}
	s.state.Direction = dir

	if err := s.gen.SetFrequency(hz); err != nil {
		return s.fail(hz, err)
	}
	if err := s.enable.Set(true); err != nil {
		return s.fail(hz, fmt.Errorf("enable driver: %w", err))
	}
	if err := s.gen.Start(); err != nil {
		return s.fail(hz, fmt.Errorf("start pulses: %w", err))
	}

	s.state.FrequencyHz = hz
	s.state.Enabled = true
	return nil
}

// Stop halts pulse emission and de-energises the driver. Idempotent.
func (s *Stepper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disable()
}

// State returns the current stepper state.
func (s *Stepper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Home drives the motor at HomingSpeed until probe reports pressed, then
// stops. It blocks, so it must only be used outside a brew.
func (s *Stepper) Home(ctx context.Context, probe Probe) error {
	if pressed, err := probe.Active(); err != nil {
		return fmt.Errorf("actuator: read home switch: %w", err)
	} else if pressed {
		return nil
	}

	log.Printf("actuator: homing at %.0f steps/s", s.cfg.HomingSpeed)
	if err := s.SetSpeed(s.cfg.HomingSpeed); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HomingTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.HomingPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopErr := s.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Join(fmt.Errorf("%w after %v", ErrHomingTimeout, s.cfg.HomingTimeout), stopErr)
			}
			return errors.Join(ctx.Err(), stopErr)
		case <-ticker.C:
		}

		pressed, err := probe.Active()
		if err != nil {
			return errors.Join(fmt.Errorf("actuator: read home switch: %w", err), s.Stop())
		}
		if pressed {
			log.Printf("actuator: homing complete")
			return s.Stop()
		}
	}
}

// Close stops the motor and releases the enable and direction lines.
func (s *Stepper) Close() error {
	return errors.Join(s.Stop(), s.enable.Close(), s.dir.Close())
}

// MaxFrequencyHz bounds the generator frequency a speed may map to.
const MaxFrequencyHz = math.MaxInt32

// frequencyFor converts steps per second to a generator frequency.
func (s *Stepper) frequencyFor(speed float64) (int, error) {
	f := math.Round(math.Abs(speed) * float64(s.cfg.CyclesPerPulse))
	if f > MaxFrequencyHz {
		return 0, fmt.Errorf("speed %g steps/s exceeds %d Hz", speed, MaxFrequencyHz)
	}
	hz := int(f)
	if hz < s.cfg.MinFrequencyHz {
		hz = s.cfg.MinFrequencyHz
	}
	return hz, nil
}

// disable halts the generator and de-energises the driver. Caller holds mu.
func (s *Stepper) disable() error {
	var errs []error
	if err := s.gen.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt pulses: %w", err))
	}
	if err := s.enable.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("disable driver: %w", err))
	}
	s.state.FrequencyHz = 0
	s.state.Enabled = false
	return errors.Join(errs...)
}

// fail disables the stepper and wraps cause in ErrProgramming. Caller holds mu.
func (s *Stepper) fail(hz int, cause error) error {
	log.Printf("actuator: programming %d Hz failed: %v", hz, cause)
	return fmt.Errorf("%w at %d Hz: %w", ErrProgramming, hz, errors.Join(cause, s.disable()))
}
