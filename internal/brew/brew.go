// Package brew runs a brew profile against the pump as a fixed-period
// control loop: read pressure, regulate, command the pump, record.
package brew

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"github.com/sweeney/brew-controller/internal/pid"
	"github.com/sweeney/brew-controller/internal/profile"
	"github.com/sweeney/brew-controller/internal/sensor"
)

// ErrAborted is returned when the brew is cancelled before its last tick.
var ErrAborted = errors.New("brew: aborted")

// Actuator is the pump as the loop sees it. Homing is deliberately absent.
type Actuator interface {
	SetSpeed(speed float64) error
	Stop() error
}

// Clock abstracts time for tick pacing.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Observer is notified synchronously from the loop goroutine.
// Implementations must return quickly.
type Observer interface {
	OnBrewStart(p *profile.Profile, started time.Time)
	OnTick(rec Record)
	OnBrewEnd(shot ShotLog, err error)
}

// Config holds loop calibration.
type Config struct {
	// PID gains. Dt is taken from the profile's tick period.
	PID pid.Config `yaml:"pid"`

	// SpeedScale maps control signal units to pump steps per second.
	SpeedScale float64 `yaml:"speed_scale"`

	// SpinWindow is how long before each deadline the loop stops sleeping
	// and spins. Zero sleeps right up to the deadline.
	SpinWindow time.Duration `yaml:"spin_window"`
}

// DefaultConfig returns the calibration for the standard pump.
func DefaultConfig() Config {
	return Config{
		PID:        pid.DefaultConfig(),
		SpeedScale: 10,
		SpinWindow: time.Millisecond,
	}
}

// Controller runs brews. It holds no per-brew state, but only one Run may
// be active at a time since the actuator and sensors are shared.
type Controller struct {
	cfg         Config
	pressure    sensor.Sensor
	temperature sensor.Sensor
	act         Actuator
	clock       Clock
	observers   []Observer
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(ctl *Controller) { ctl.observers = append(ctl.observers, o) }
}

// New creates a Controller.
func New(cfg Config, pressure, temperature sensor.Sensor, act Actuator, opts ...Option) (*Controller, error) {
	if math.IsNaN(cfg.SpeedScale) || math.IsInf(cfg.SpeedScale, 0) {
		return nil, fmt.Errorf("brew: speed scale must be finite, got %v", cfg.SpeedScale)
	}
	if cfg.SpinWindow < 0 {
		return nil, fmt.Errorf("brew: spin window must not be negative, got %v", cfg.SpinWindow)
	}

	c := &Controller{
		cfg:         cfg,
		pressure:    pressure,
		temperature: temperature,
		act:         act,
		clock:       SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes p and returns the shot log. The log is returned even when
// err is non-nil and holds every tick completed before the failure. The
// actuator is stopped before Run returns, whatever the outcome, including a
// panic raised during a tick.
func (c *Controller) Run(ctx context.Context, p *profile.Profile) (shot ShotLog, err error) {
	if err := p.Validate(); err != nil {
		return ShotLog{}, err
	}

	pidCfg := c.cfg.PID
	pidCfg.Dt = p.TickPeriod
	reg, err := pid.New(pidCfg)
	if err != nil {
		return ShotLog{}, fmt.Errorf("brew: %w", err)
	}

	shot = ShotLog{
		Profile:    p.Name,
		TickPeriod: p.TickPeriod,
		Started:    c.clock.Now(),
		Records:    make([]Record, 0, p.Ticks()),
	}
	for _, o := range c.observers {
		o.OnBrewStart(p, shot.Started)
	}

	// Deferred in this order so the pump is stopped before observers hear
	// about the end.
	defer func() {
		for _, o := range c.observers {
			o.OnBrewEnd(shot, err)
		}
	}()
	defer func() {
		if stopErr := c.act.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("brew: stop actuator: %w", stopErr))
		}
	}()

	err = c.loop(ctx, p, reg, &shot)
	return shot, err
}

func (c *Controller) loop(ctx context.Context, p *profile.Profile, reg *pid.Regulator, shot *ShotLog) error {
	ticks := p.Ticks()
	lastFault := ""

	for i := 0; i < ticks; i++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w after %d of %d ticks: %w", ErrAborted, i, ticks, context.Cause(ctx))
		}

		tickStart := c.clock.Now()
		deadline := tickStart.Add(p.TickPeriod)

		rec, err := c.tick(i, time.Duration(i)*p.TickPeriod, p, reg)
		if err != nil {
			return err
		}

		if now := c.clock.Now(); now.After(deadline) {
			rec.Overrun = now.Sub(deadline)
			log.Printf("brew: tick %d overran by %v", i, rec.Overrun)
		}
		if rec.Fault != lastFault {
			if rec.Fault != "" {
				log.Printf("brew: tick %d: %s", i, rec.Fault)
			} else {
				log.Printf("brew: tick %d: sensors recovered", i)
			}
			lastFault = rec.Fault
		}

		shot.Records = append(shot.Records, rec)
		for _, o := range c.observers {
			o.OnTick(rec)
		}

		c.waitUntil(deadline)
	}
	return nil
}

// tick performs one iteration. A pressure fault leaves the regulator and
// pump untouched so the pump keeps its previous command.
func (c *Controller) tick(i int, elapsed time.Duration, p *profile.Profile, reg *pid.Regulator) (Record, error) {
	target, err := p.TargetAt(elapsed)
	if err != nil {
		return Record{}, fmt.Errorf("brew: tick %d: %w", i, err)
	}

	rec := Record{Tick: i, Elapsed: elapsed, Target: target}

	var perr, terr error
	rec.Pressure, perr = sensor.ReadFrom(c.pressure)
	rec.Temperature, terr = sensor.ReadFrom(c.temperature)
	rec.Fault = describeFaults(perr, terr)

	if perr != nil {
		return rec, nil
	}

	rec.ControlSignal = reg.Update(rec.Pressure.Value, target)
	rec.Speed = rec.ControlSignal * c.cfg.SpeedScale

	if err := c.act.SetSpeed(rec.Speed); err != nil {
		return rec, fmt.Errorf("brew: tick %d: command %.1f steps/s: %w", i, rec.Speed, err)
	}
	rec.Actuated = true
	return rec, nil
}

// waitUntil sleeps until SpinWindow before deadline, then spins. A passed
// deadline returns immediately; missed ticks are not made up.
func (c *Controller) waitUntil(deadline time.Time) {
	if d := deadline.Sub(c.clock.Now()) - c.cfg.SpinWindow; d > 0 {
		c.clock.Sleep(d)
	}
	for c.clock.Now().Before(deadline) {
		runtime.Gosched()
	}
}

func describeFaults(pressure, temperature error) string {
	switch {
	case pressure != nil && temperature != nil:
		return fmt.Sprintf("pressure: %v; temperature: %v", pressure, temperature)
	case pressure != nil:
		return fmt.Sprintf("pressure: %v", pressure)
	case temperature != nil:
		return fmt.Sprintf("temperature: %v", temperature)
	}
	return ""
}
