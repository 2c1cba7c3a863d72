package sensor

import (
	"fmt"
	"sync"
)

// Fake is a test double returning scripted readings. Once the script is
// exhausted the last entry repeats.
type Fake struct {
	mu sync.Mutex

	// Samples are returned in order. A nil entry is a fault.
	Samples []*float64

	index int
	reads int
}

var _ Sensor = (*Fake)(nil)

// NewFake creates a Fake returning the given values in order.
func NewFake(values ...float64) *Fake {
	f := &Fake{}
	for _, v := range values {
		f.Samples = append(f.Samples, Float(v))
	}
	return f
}

// Constant returns a Fake that always reads v.
func Constant(v float64) *Fake {
	return NewFake(v)
}

// Float returns a pointer to v, for building Samples scripts.
func Float(v float64) *float64 {
	return &v
}

// Read returns the next scripted sample.
func (f *Fake) Read() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if len(f.Samples) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrFault, ErrNoData)
	}
	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	if s == nil {
		return 0, ErrFault
	}
	return *s, nil
}

// Reads returns how many times Read was called.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
