package gpio

import (
	"errors"
	"sync"
)

// FakeOutput is a test double that records every level driven onto it.
// Safe for concurrent use so a pulse train goroutine can drive it.
type FakeOutput struct {
	mu sync.Mutex

	// history holds every value passed to Set, in order.
	history []bool

	// active is the current logical level.
	active bool

	// closed tracks if Close was called.
	closed bool

	// setErr, if set, will be returned by Set.
	setErr error
}

// NewFakeOutput creates an inactive FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.active = active
	f.history = append(f.history, active)
	return nil
}

// Close marks the output as closed and drives it inactive.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.closed = true
	return nil
}

// IsActive returns the current logical level.
func (f *FakeOutput) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// IsClosed reports whether Close was called.
func (f *FakeOutput) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// History returns a copy of every level set so far.
func (f *FakeOutput) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.history))
	copy(out, f.history)
	return out
}

// Edges counts level changes in the recorded history.
func (f *FakeOutput) Edges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	prev := false
	for _, v := range f.history {
		if v != prev {
			n++
		}
		prev = v
	}
	return n
}

// SetError makes subsequent Set calls fail with err (nil clears it).
func (f *FakeOutput) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

// Reset clears recorded history.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
	f.active = false
	f.closed = false
	f.setErr = nil
}

// FakeInput is a test double that returns scripted input levels.
type FakeInput struct {
	// Samples contains scripted levels to return.
	// Each call to Active() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int
	reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Active()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Active returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Active() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	f.reads++
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Reads returns how many successful reads have been made.
func (f *FakeInput) Reads() int {
	return f.reads
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the input to the beginning of samples.
func (f *FakeInput) Reset() {
	f.index = 0
	f.reads = 0
	f.Closed = false
}
