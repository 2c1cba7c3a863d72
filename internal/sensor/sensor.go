// Package sensor provides the pressure and temperature sources the brew
// loop reads once per tick.
package sensor

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

var (
	// ErrFault marks an absent reading. Every Sensor error wraps it.
	ErrFault = errors.New("sensor: fault")

	// ErrNoData is returned before the first sample arrives.
	ErrNoData = errors.New("sensor: no data")

	// ErrStale is returned when the latest sample is older than the slot's MaxAge.
	ErrStale = errors.New("sensor: stale reading")
)

// Sensor returns the most recent reading. A read must not block for longer
// than a small fraction of a tick.
type Sensor interface {
	Read() (float64, error)
}

// Reading is an optional sensor value. An invalid reading is recorded when
// the sensor reported a fault.
type Reading struct {
	Value float64
	Valid bool
}

// Valid wraps a present value.
func Valid(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Absent is a faulted reading.
func Absent() Reading {
	return Reading{}
}

// ReadFrom reads s once. Errors and non-finite values yield an absent reading.
func ReadFrom(s Sensor) (Reading, error) {
	v, err := s.Read()
	if err != nil {
		return Absent(), err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent(), ErrFault
	}
	return Valid(v), nil
}

func (r Reading) String() string {
	if !r.Valid {
		return "-"
	}
	return strconv.FormatFloat(r.Value, 'f', 2, 64)
}

// MarshalJSON encodes an absent reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON decodes null as an absent reading.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Absent()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Valid(v)
	return nil
}
