// Package profile interprets brew profiles: an ordered list of hold and ramp
// stages mapping elapsed brew time to a target pressure.
// This package has NO hardware dependencies. Time is always passed in as an
// elapsed duration, never read from a clock.
package profile

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidProfile is returned by Validate for a malformed stage table.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrNegativeElapsed is returned by TargetAt for a negative elapsed time.
	ErrNegativeElapsed = errors.New("elapsed time is negative")
)

// Kind identifies the shape of a stage.
type Kind string

const (
	KindHold Kind = "hold"
	KindRamp Kind = "ramp"
)

// Stage is one segment of a brew profile.
// For a hold stage StartBar and EndBar are equal.
type Stage struct {
	Kind     Kind
	Duration time.Duration
	StartBar float64
	EndBar   float64
}

// Hold returns a stage holding a constant pressure.
func Hold(d time.Duration, bar float64) Stage {
	return Stage{Kind: KindHold, Duration: d, StartBar: bar, EndBar: bar}
}

// Ramp returns a stage moving linearly from start to end.
func Ramp(d time.Duration, start, end float64) Stage {
	return Stage{Kind: KindRamp, Duration: d, StartBar: start, EndBar: end}
}

// Initial returns the value the stage takes at its start.
func (s Stage) Initial() float64 {
	return s.StartBar
}

// Terminal returns the value the stage takes at its end.
func (s Stage) Terminal() float64 {
	if s.Kind == KindHold {
		return s.StartBar
	}
	return s.EndBar
}

// valueAt evaluates the stage at offset from its start.
func (s Stage) valueAt(offset time.Duration) float64 {
	if s.Kind == KindHold {
		return s.StartBar
	}
	// Zero-duration ramp degenerates to its start value.
	if s.Duration <= 0 {
		return s.StartBar
	}
	frac := float64(offset) / float64(s.Duration)
	return s.StartBar + (s.EndBar-s.StartBar)*frac
}

func (s Stage) String() string {
	if s.Kind == KindHold {
		return fmt.Sprintf("hold %v @ %.2f bar", s.Duration, s.StartBar)
	}
	return fmt.Sprintf("ramp %v %.2f -> %.2f bar", s.Duration, s.StartBar, s.EndBar)
}

// Profile is a complete brew definition.
type Profile struct {
	Name               string
	TickPeriod         time.Duration
	TotalDuration      time.Duration
	TargetTemperatureC float64
	Stages             []Stage
}

// Validate checks the profile before a brew starts.
// Every failure wraps ErrInvalidProfile.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidProfile)
	}
	if p.TickPeriod <= 0 {
		return fmt.Errorf("%w: tick period must be positive, got %v", ErrInvalidProfile, p.TickPeriod)
	}
	if p.TotalDuration <= 0 {
		return fmt.Errorf("%w: total duration must be positive, got %v", ErrInvalidProfile, p.TotalDuration)
	}
	for i, s := range p.Stages {
		switch s.Kind {
		case KindHold, KindRamp:
		default:
			return fmt.Errorf("%w: stage %d: unknown kind %q", ErrInvalidProfile, i, s.Kind)
		}
		if s.Duration < 0 {
			return fmt.Errorf("%w: stage %d: negative duration %v", ErrInvalidProfile, i, s.Duration)
		}
		if !finite(s.StartBar) || !finite(s.EndBar) {
			return fmt.Errorf("%w: stage %d: pressure is not finite", ErrInvalidProfile, i)
		}
	}
	return nil
}

// StagesDuration returns the summed duration of all stages.
func (p *Profile) StagesDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Stages {
		total += s.Duration
	}
	return total
}

// Ticks returns the number of control ticks the brew runs for,
// ceil(TotalDuration / TickPeriod).
func (p *Profile) Ticks() int {
	if p.TickPeriod <= 0 || p.TotalDuration <= 0 {
		return 0
	}
	n := p.TotalDuration / p.TickPeriod
	if p.TotalDuration%p.TickPeriod != 0 {
		n++
	}
	return int(n)
}

// TargetAt returns the target pressure at the given elapsed brew time.
//
// A stage owns the half-open interval (start, start+Duration], so a time
// exactly on a boundary evaluates the earlier stage's end point. Elapsed
// zero returns the first stage's start value. Past the last stage the
// profile holds the last stage's terminal value.
func (p *Profile) TargetAt(elapsed time.Duration) (float64, error) {
	if elapsed < 0 {
		return 0, fmt.Errorf("%w: %v", ErrNegativeElapsed, elapsed)
	}
	if len(p.Stages) == 0 {
		return 0, fmt.Errorf("%w: no stages", ErrInvalidProfile)
	}
	if elapsed == 0 {
		return p.Stages[0].Initial(), nil
	}

	var start time.Duration
	for _, s := range p.Stages {
		end := start + s.Duration
		if elapsed > start && elapsed <= end {
			return s.valueAt(elapsed - start), nil
		}
		start = end
	}
	return p.Stages[len(p.Stages)-1].Terminal(), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
