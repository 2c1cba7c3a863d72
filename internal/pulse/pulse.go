// Package pulse generates the step pulse train for the pump's stepper driver.
//
// A Generator runs on its own once started. Frequency changes are picked up
// on the generator's next edge, so the caller never has to stop emission to
// retune it.
package pulse

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/brew-controller/internal/gpio"
)

var (
	// ErrFrequencyOutOfRange is returned when a frequency cannot be programmed.
	ErrFrequencyOutOfRange = errors.New("pulse: frequency out of range")

	// ErrNotProgrammed is returned by Start before any frequency was set.
	ErrNotProgrammed = errors.New("pulse: no frequency programmed")
)

// Generator is a free-running, frequency-programmable square wave.
type Generator interface {
	// SetFrequency programs the output toggle rate in Hz.
	SetFrequency(hz int) error

	// Start begins emission at the programmed frequency. Idempotent.
	Start() error

	// Halt stops emission and leaves the output low. Idempotent.
	Halt() error

	// Frequency returns the last programmed frequency.
	Frequency() int
}

// Config bounds the frequencies a Train accepts.
type Config struct {
	MinHz int `yaml:"min_hz"`
	MaxHz int `yaml:"max_hz"`
}

// DefaultConfig suits a software train on a Raspberry Pi.
func DefaultConfig() Config {
	return Config{MinHz: 100, MaxHz: 20000}
}

// Train toggles a GPIO output from a dedicated goroutine.
// Each toggle is one generator cycle, so a full step pulse takes two cycles.
type Train struct {
	out gpio.Output
	cfg Config

	hz       atomic.Int64
	failures atomic.Int64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ Generator = (*Train)(nil)

// NewTrain creates a halted Train driving out.
func NewTrain(out gpio.Output, cfg Config) *Train {
	return &Train{out: out, cfg: cfg}
}

// SetFrequency programs the toggle rate. A running train picks it up on
// its next edge.
func (t *Train) SetFrequency(hz int) error {
	if hz < t.cfg.MinHz || hz > t.cfg.MaxHz {
		return fmt.Errorf("%w: %d Hz not in [%d, %d]", ErrFrequencyOutOfRange, hz, t.cfg.MinHz, t.cfg.MaxHz)
	}
	t.hz.Store(int64(hz))
	return nil
}

// Frequency returns the last programmed frequency.
func (t *Train) Frequency() int {
	return int(t.hz.Load())
}

// Start launches the emitter goroutine if it is not already running.
func (t *Train) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return nil
	}
	if t.hz.Load() <= 0 {
		return ErrNotProgrammed
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
	return nil
}

// Halt stops the emitter, waits for it to exit and drives the output low.
func (t *Train) Halt() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
		<-t.done
		t.stop = nil
		t.done = nil
	}
	if err := t.out.Set(false); err != nil {
		return fmt.Errorf("pulse: drive step low: %w", err)
	}
	return nil
}

// Running reports whether the emitter goroutine is active.
func (t *Train) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Failures returns how many edges could not be written to the output.
func (t *Train) Failures() int64 {
	return t.failures.Load()
}

func (t *Train) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	level := false
	timer := time.NewTimer(t.period())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		level = !level
		if err := t.out.Set(level); err != nil {
			t.failures.Add(1)
		}
		timer.Reset(t.period())
	}
}

// period is the time between edges at the current frequency.
func (t *Train) period() time.Duration {
	hz := t.hz.Load()
	if hz <= 0 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}
