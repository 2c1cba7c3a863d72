package brew

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/brew-controller/internal/sensor"
)

// Record is one tick of a shot.
type Record struct {
	Tick    int
	Elapsed time.Duration
	Target  float64

	Pressure    sensor.Reading
	Temperature sensor.Reading

	ControlSignal float64
	Speed         float64

	// Actuated is false when a pressure fault skipped regulation.
	Actuated bool

	// Fault describes sensor faults on this tick; empty when none.
	Fault string

	// Overrun is how far the tick ran past its deadline.
	Overrun time.Duration
}

// ShotLog is the in-memory trace of one brew.
type ShotLog struct {
	Profile    string
	TickPeriod time.Duration
	Started    time.Time
	Records    []Record
}

// Summary aggregates a shot log.
type Summary struct {
	Ticks             int
	PeakPressure      sensor.Reading
	MeanPressure      sensor.Reading
	MeanTemperature   sensor.Reading
	PressureFaults    int
	TemperatureFaults int
	Overruns          int
}

// Summary computes aggregate figures over valid readings only.
func (l ShotLog) Summary() Summary {
	s := Summary{Ticks: len(l.Records)}

	var pSum, tSum float64
	var pN, tN int
	for _, r := range l.Records {
		if r.Pressure.Valid {
			pSum += r.Pressure.Value
			pN++
			if !s.PeakPressure.Valid || r.Pressure.Value > s.PeakPressure.Value {
				s.PeakPressure = sensor.Valid(r.Pressure.Value)
			}
		} else {
			s.PressureFaults++
		}
		if r.Temperature.Valid {
			tSum += r.Temperature.Value
			tN++
		} else {
			s.TemperatureFaults++
		}
		if r.Overrun > 0 {
			s.Overruns++
		}
	}
	if pN > 0 {
		s.MeanPressure = sensor.Valid(pSum / float64(pN))
	}
	if tN > 0 {
		s.MeanTemperature = sensor.Valid(tSum / float64(tN))
	}
	return s
}

// Result is the outcome of a brew.
type Result string

const (
	ResultComplete Result = "COMPLETE"
	ResultAborted  Result = "ABORTED"
	ResultFailed   Result = "FAILED"
)

// ResultOf classifies the error returned by Controller.Run.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultComplete
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return ResultAborted
	}
	return ResultFailed
}

// Shot is a finished brew ready to publish or store.
type Shot struct {
	ID       string
	Log      ShotLog
	Finished time.Time
	Result   Result
	Err      string
}

// NewShot wraps the outcome of Controller.Run.
func NewShot(id string, log ShotLog, finished time.Time, err error) Shot {
	s := Shot{ID: id, Log: log, Finished: finished, Result: ResultOf(err)}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}
