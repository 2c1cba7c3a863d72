package pulse

import (
	"fmt"
	"sync"
)

// Fake is a test double recording every programmed frequency.
type Fake struct {
	mu sync.Mutex

	freq    int
	running bool

	// History contains every frequency accepted by SetFrequency.
	History []int

	// FailNext, if set, is returned by the next SetFrequency call and then cleared.
	FailNext error

	// FailAbove, if positive, rejects frequencies above it.
	FailAbove int

	// Starts and Halts count calls.
	Starts int
	Halts  int
}

var _ Generator = (*Fake)(nil)

// NewFake creates a halted Fake.
func NewFake() *Fake {
	return &Fake{}
}

// SetFrequency records hz unless a failure is injected.
func (f *Fake) SetFrequency(hz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	if f.FailAbove > 0 && hz > f.FailAbove {
		return fmt.Errorf("%w: %d Hz above %d", ErrFrequencyOutOfRange, hz, f.FailAbove)
	}
	f.freq = hz
	f.History = append(f.History, hz)
	return nil
}

// Start marks the fake running.
func (f *Fake) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.freq <= 0 {
		return ErrNotProgrammed
	}
	f.running = true
	f.Starts++
	return nil
}

// Halt marks the fake halted.
func (f *Fake) Halt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.Halts++
	return nil
}

// Frequency returns the last accepted frequency.
func (f *Fake) Frequency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freq
}

// Running reports whether Start was called more recently than Halt.
func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
