package sensor

import (
	"fmt"
	"sync/atomic"
	"time"
)

type sample struct {
	value float64
	err   error
	at    time.Time
}

// Slot is a latest-value handoff between one producer and the brew loop.
// Reads never block.
type Slot struct {
	name   string
	maxAge time.Duration
	now    func() time.Time

	latest atomic.Pointer[sample]
}

var _ Sensor = (*Slot)(nil)

// NewSlot creates an empty slot. A zero maxAge disables the staleness check.
func NewSlot(name string, maxAge time.Duration) *Slot {
	return &Slot{name: name, maxAge: maxAge, now: time.Now}
}

// Publish stores a new value.
func (s *Slot) Publish(v float64) {
	s.latest.Store(&sample{value: v, at: s.now()})
}

// PublishFault records that the producer could not obtain a value.
func (s *Slot) PublishFault(cause error) {
	s.latest.Store(&sample{err: cause, at: s.now()})
}

// Read returns the latest value or an error wrapping ErrFault.
func (s *Slot) Read() (float64, error) {
	smp := s.latest.Load()
	if smp == nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrFault, s.name, ErrNoData)
	}
	if smp.err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrFault, s.name, smp.err)
	}
	if s.maxAge > 0 {
		if age := s.now().Sub(smp.at); age > s.maxAge {
			return 0, fmt.Errorf("%w: %s: %w (%v old)", ErrFault, s.name, ErrStale, age.Round(time.Millisecond))
		}
	}
	return smp.value, nil
}

// Name returns the slot's name.
func (s *Slot) Name() string {
	return s.name
}
