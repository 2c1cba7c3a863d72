// Package pid implements the pressure regulator used by the brew loop.
package pid

import (
	"errors"
	"fmt"
	"time"
)

// Config holds regulator gains and limits.
type Config struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`

	// WindupMin and WindupMax bound the raw accumulated error, not the
	// scaled integral term.
	WindupMin float64 `yaml:"windup_min"`
	WindupMax float64 `yaml:"windup_max"`

	// Dt is the nominal control period. Actual call jitter is not compensated.
	Dt time.Duration `yaml:"-"`
}

// DefaultConfig returns the gains the pump was first tuned with.
func DefaultConfig() Config {
	return Config{
		Kp:        0.7,
		Ki:        0.02,
		Kd:        0.001,
		WindupMin: -10,
		WindupMax: 10,
		Dt:        100 * time.Millisecond,
	}
}

// Regulator is a PID controller with integral anti-windup.
// Not safe for concurrent use; the brew loop owns it.
type Regulator struct {
	cfg       Config
	dt        float64
	integral  float64
	prevError float64
}

// New creates a regulator with zeroed state.
func New(cfg Config) (*Regulator, error) {
	if cfg.Dt <= 0 {
		return nil, fmt.Errorf("pid: dt must be positive, got %v", cfg.Dt)
	}
	if cfg.WindupMin > cfg.WindupMax {
		return nil, errors.New("pid: windup min exceeds windup max")
	}
	return &Regulator{cfg: cfg, dt: cfg.Dt.Seconds()}, nil
}

// Update returns the control signal for one tick.
func (r *Regulator) Update(measured, target float64) float64 {
	err := target - measured

	// Clamp the raw error sum before it is scaled by Ki.
	r.integral = clamp(r.integral+err, r.cfg.WindupMin, r.cfg.WindupMax)

	p := r.cfg.Kp * err
	i := r.cfg.Ki * r.integral * r.dt
	d := r.cfg.Kd * (err - r.prevError) / r.dt

	r.prevError = err
	return p + i + d
}

// Integral returns the clamped accumulated error.
func (r *Regulator) Integral() float64 {
	return r.integral
}

// PreviousError returns the error from the last Update.
func (r *Regulator) PreviousError() float64 {
	return r.prevError
}

// Reset zeroes the accumulator and previous error.
func (r *Regulator) Reset() {
	r.integral = 0
	r.prevError = 0
}

// Config returns the regulator configuration.
func (r *Regulator) Config() Config {
	return r.cfg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
