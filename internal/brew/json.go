package brew

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/brew-controller/internal/sensor"
)

// ShotJSON is the wire form of a shot, shared by MQTT and the shot store.
type ShotJSON struct {
	ID           string       `json:"id"`
	Profile      string       `json:"profile"`
	Result       string       `json:"result"`
	Error        string       `json:"error,omitempty"`
	Started      string       `json:"started"`
	Finished     string       `json:"finished"`
	TickPeriodMs int64        `json:"tick_period_ms"`
	Summary      SummaryJSON  `json:"summary"`
	Records      []RecordJSON `json:"records"`
}

// SummaryJSON is the JSON representation of a Summary.
type SummaryJSON struct {
	Ticks             int            `json:"ticks"`
	PeakPressure      sensor.Reading `json:"peak_pressure_bar"`
	MeanPressure      sensor.Reading `json:"mean_pressure_bar"`
	MeanTemperature   sensor.Reading `json:"mean_temperature_c"`
	PressureFaults    int            `json:"pressure_faults"`
	TemperatureFaults int            `json:"temperature_faults"`
	Overruns          int            `json:"overruns"`
}

// RecordJSON is the JSON representation of a Record.
type RecordJSON struct {
	Tick          int            `json:"tick"`
	ElapsedMs     int64          `json:"elapsed_ms"`
	TargetBar     float64        `json:"target_bar"`
	PressureBar   sensor.Reading `json:"pressure_bar"`
	TemperatureC  sensor.Reading `json:"temperature_c"`
	ControlSignal float64        `json:"control_signal"`
	Speed         float64        `json:"speed"`
	Actuated      bool           `json:"actuated"`
	Fault         string         `json:"fault,omitempty"`
	OverrunUs     int64          `json:"overrun_us,omitempty"`
}

// FormatSummary converts a Summary for JSON output.
func FormatSummary(s Summary) SummaryJSON {
	return SummaryJSON{
		Ticks:             s.Ticks,
		PeakPressure:      s.PeakPressure,
		MeanPressure:      s.MeanPressure,
		MeanTemperature:   s.MeanTemperature,
		PressureFaults:    s.PressureFaults,
		TemperatureFaults: s.TemperatureFaults,
		Overruns:          s.Overruns,
	}
}

// FormatRecord converts a Record for JSON output.
func FormatRecord(r Record) RecordJSON {
	return RecordJSON{
		Tick:          r.Tick,
		ElapsedMs:     r.Elapsed.Milliseconds(),
		TargetBar:     r.Target,
		PressureBar:   r.Pressure,
		TemperatureC:  r.Temperature,
		ControlSignal: r.ControlSignal,
		Speed:         r.Speed,
		Actuated:      r.Actuated,
		Fault:         r.Fault,
		OverrunUs:     r.Overrun.Microseconds(),
	}
}

// FormatShot encodes a shot.
func FormatShot(s Shot) ([]byte, error) {
	records := make([]RecordJSON, len(s.Log.Records))
	for i, r := range s.Log.Records {
		records[i] = FormatRecord(r)
	}

	return json.Marshal(ShotJSON{
		ID:           s.ID,
		Profile:      s.Log.Profile,
		Result:       string(s.Result),
		Error:        s.Err,
		Started:      s.Log.Started.UTC().Format(time.RFC3339Nano),
		Finished:     s.Finished.UTC().Format(time.RFC3339Nano),
		TickPeriodMs: s.Log.TickPeriod.Milliseconds(),
		Summary:      FormatSummary(s.Log.Summary()),
		Records:      records,
	})
}

// ParseShot decodes a shot produced by FormatShot. The summary is
// recomputed from the records.
func ParseShot(data []byte) (Shot, error) {
	var sj ShotJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return Shot{}, fmt.Errorf("brew: decode shot: %w", err)
	}

	started, err := time.Parse(time.RFC3339Nano, sj.Started)
	if err != nil {
		return Shot{}, fmt.Errorf("brew: decode shot %s: started: %w", sj.ID, err)
	}
	finished, err := time.Parse(time.RFC3339Nano, sj.Finished)
	if err != nil {
		return Shot{}, fmt.Errorf("brew: decode shot %s: finished: %w", sj.ID, err)
	}

	records := make([]Record, len(sj.Records))
	for i, r := range sj.Records {
		records[i] = Record{
			Tick:          r.Tick,
			Elapsed:       time.Duration(r.ElapsedMs) * time.Millisecond,
			Target:        r.TargetBar,
			Pressure:      r.PressureBar,
			Temperature:   r.TemperatureC,
			ControlSignal: r.ControlSignal,
			Speed:         r.Speed,
			Actuated:      r.Actuated,
			Fault:         r.Fault,
			Overrun:       time.Duration(r.OverrunUs) * time.Microsecond,
		}
	}

	return Shot{
		ID: sj.ID,
		Log: ShotLog{
			Profile:    sj.Profile,
			TickPeriod: time.Duration(sj.TickPeriodMs) * time.Millisecond,
			Started:    started,
			Records:    records,
		},
		Finished: finished,
		Result:   Result(sj.Result),
		Err:      sj.Error,
	}, nil
}
