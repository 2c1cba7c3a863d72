// Package status provides a thread-safe status tracker for the brew controller.
// It is written by the brew loop and read by HTTP handlers and MQTT events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/brew-controller/internal/actuator"
	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/profile"
	"github.com/sweeney/brew-controller/internal/sensor"
)

// Phase is what the controller is doing.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseHoming  Phase = "HOMING"
	PhaseBrewing Phase = "BREWING"
	PhaseFault   Phase = "FAULT"
)

// Config contains controller configuration for display.
type Config struct {
	Broker     string
	HTTPAddr   string
	SerialPort string
	StorePath  string
	SpeedScale float64
}

// BrewInfo describes the current or most recent brew.
type BrewInfo struct {
	ShotID      string
	Profile     string
	Started     time.Time
	Tick        int
	Ticks       int
	Elapsed     time.Duration
	Target      float64
	Pressure    sensor.Reading
	Temperature sensor.Reading
	Speed       float64
	Fault       string
	Faults      int
	Overruns    int
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Phase         Phase
	Brew          BrewInfo
	LastResult    brew.Result
	LastError     string
	Brews         int
	Actuator      actuator.State
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot

	// actuatorState is polled on Snapshot; nil leaves Actuator zero.
	actuatorState func() actuator.State
}

var _ brew.Observer = (*Tracker)(nil)

// NewTracker creates a Tracker in the IDLE phase.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Phase:     PhaseIdle,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetActuatorSource registers a function reporting live actuator state.
func (t *Tracker) SetActuatorSource(fn func() actuator.State) {
	t.mu.Lock()
	t.actuatorState = fn
	t.mu.Unlock()
}

// SetPhase sets the phase directly, e.g. around homing.
func (t *Tracker) SetPhase(p Phase) {
	t.mu.Lock()
	t.snap.Phase = p
	t.mu.Unlock()
}

// SetShotID labels the next brew.
func (t *Tracker) SetShotID(id string) {
	t.mu.Lock()
	t.snap.Brew.ShotID = id
	t.mu.Unlock()
}

// SetError records a failure outside a brew and enters FAULT.
func (t *Tracker) SetError(err error) {
	t.mu.Lock()
	t.snap.Phase = PhaseFault
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// OnBrewStart resets per-brew fields and enters BREWING.
func (t *Tracker) OnBrewStart(p *profile.Profile, started time.Time) {
	t.mu.Lock()
	t.snap.Phase = PhaseBrewing
	t.snap.Brew = BrewInfo{
		ShotID:  t.snap.Brew.ShotID,
		Profile: p.Name,
		Started: started,
		Ticks:   p.Ticks(),
	}
	t.mu.Unlock()
}

// OnTick records the latest tick.
func (t *Tracker) OnTick(rec brew.Record) {
	t.mu.Lock()
	b := &t.snap.Brew
	b.Tick = rec.Tick
	b.Elapsed = rec.Elapsed
	b.Target = rec.Target
	b.Pressure = rec.Pressure
	b.Temperature = rec.Temperature
	b.Speed = rec.Speed
	b.Fault = rec.Fault
	if rec.Fault != "" {
		b.Faults++
	}
	if rec.Overrun > 0 {
		b.Overruns++
	}
	t.mu.Unlock()
}

// OnBrewEnd returns to IDLE, or FAULT if the brew failed.
func (t *Tracker) OnBrewEnd(shot brew.ShotLog, err error) {
	result := brew.ResultOf(err)

	t.mu.Lock()
	t.snap.Brews++
	t.snap.LastResult = result
	t.snap.LastError = ""
	if err != nil {
		t.snap.LastError = err.Error()
	}
	if result == brew.ResultFailed {
		t.snap.Phase = PhaseFault
	} else {
		t.snap.Phase = PhaseIdle
	}
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	fn := t.actuatorState
	t.mu.RUnlock()

	if fn != nil {
		s.Actuator = fn()
	}
	s.Now = time.Now()
	return s
}
