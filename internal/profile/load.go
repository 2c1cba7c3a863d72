package profile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTickPeriod is used when a profile file omits tick_period_ms.
const DefaultTickPeriod = 100 * time.Millisecond

// document is the on-disk representation of a profile.
// JSON files parse too, since JSON is a subset of YAML.
type document struct {
	Name               string     `yaml:"name"`
	TickPeriodMs       int64      `yaml:"tick_period_ms"`
	TotalDurationMs    int64      `yaml:"total_duration_ms"`
	TargetTemperatureC float64    `yaml:"target_temperature_c"`
	Stages             []stageDoc `yaml:"stages"`
}

type stageDoc struct {
	Type             string   `yaml:"type"`
	DurationMs       int64    `yaml:"duration_ms"`
	PressureBar      *float64 `yaml:"pressure_bar"`
	StartPressureBar *float64 `yaml:"start_pressure_bar"`
	EndPressureBar   *float64 `yaml:"end_pressure_bar"`
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile document.
//
// Stage types are "hold", "ramp", or "linear" (an alias for ramp). A ramp
// without start_pressure_bar starts from the previous stage's terminal
// value, or 0 bar when it is the first stage. For ramps, pressure_bar is
// accepted in place of end_pressure_bar.
func Parse(data []byte) (*Profile, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidProfile, err)
	}

	p := &Profile{
		Name:               doc.Name,
		TickPeriod:         time.Duration(doc.TickPeriodMs) * time.Millisecond,
		TotalDuration:      time.Duration(doc.TotalDurationMs) * time.Millisecond,
		TargetTemperatureC: doc.TargetTemperatureC,
	}
	if p.TickPeriod == 0 {
		p.TickPeriod = DefaultTickPeriod
	}

	prev := 0.0
	for i, sd := range doc.Stages {
		d := time.Duration(sd.DurationMs) * time.Millisecond
		var s Stage
		switch strings.ToLower(strings.TrimSpace(sd.Type)) {
		case "hold":
			if sd.PressureBar == nil {
				return nil, fmt.Errorf("%w: stage %d: hold needs pressure_bar", ErrInvalidProfile, i)
			}
			s = Hold(d, *sd.PressureBar)
		case "ramp", "linear":
			end := sd.EndPressureBar
			if end == nil {
				end = sd.PressureBar
			}
			if end == nil {
				return nil, fmt.Errorf("%w: stage %d: ramp needs end_pressure_bar", ErrInvalidProfile, i)
			}
			start := prev
			if sd.StartPressureBar != nil {
				start = *sd.StartPressureBar
			}
			s = Ramp(d, start, *end)
		default:
			return nil, fmt.Errorf("%w: stage %d: unknown type %q", ErrInvalidProfile, i, sd.Type)
		}
		p.Stages = append(p.Stages, s)
		prev = s.Terminal()
	}

	if p.TotalDuration == 0 {
		p.TotalDuration = p.StagesDuration()
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
