package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/brew-controller/internal/sensor"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Phase         string     `json:"phase"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Brews         int        `json:"brews"`
	LastResult    string     `json:"last_result,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Brew          *BrewJSON  `json:"brew,omitempty"`
	Pump          PumpJSON   `json:"pump"`
	MQTT          MQTTStatus `json:"mqtt"`
	Config        ConfigJSON `json:"config"`
}

// BrewJSON is the JSON representation of BrewInfo.
type BrewJSON struct {
	ShotID       string         `json:"shot_id,omitempty"`
	Profile      string         `json:"profile"`
	Started      string         `json:"started"`
	Tick         int            `json:"tick"`
	Ticks        int            `json:"ticks"`
	ElapsedMs    int64          `json:"elapsed_ms"`
	TargetBar    float64        `json:"target_bar"`
	PressureBar  sensor.Reading `json:"pressure_bar"`
	TemperatureC sensor.Reading `json:"temperature_c"`
	Speed        float64        `json:"speed"`
	Fault        string         `json:"fault,omitempty"`
	Faults       int            `json:"faults"`
	Overruns     int            `json:"overruns"`
}

// PumpJSON reports actuator state.
type PumpJSON struct {
	Enabled     bool   `json:"enabled"`
	FrequencyHz int    `json:"frequency_hz"`
	Direction   string `json:"direction"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	Broker     string  `json:"broker"`
	HTTPAddr   string  `json:"http_addr"`
	SerialPort string  `json:"serial_port"`
	StorePath  string  `json:"store_path"`
	SpeedScale float64 `json:"speed_scale"`
}

func buildInner(snap Snapshot) StatusInner {
	phase := string(snap.Phase)
	if phase == "" {
		phase = "UNKNOWN"
	}

	inner := StatusInner{
		Phase:         phase,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Brews:         snap.Brews,
		LastResult:    string(snap.LastResult),
		LastError:     snap.LastError,
		Pump: PumpJSON{
			Enabled:     snap.Actuator.Enabled,
			FrequencyHz: snap.Actuator.FrequencyHz,
			Direction:   snap.Actuator.Direction.String(),
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
			SerialPort: snap.Config.SerialPort,
			StorePath:  snap.Config.StorePath,
			SpeedScale: snap.Config.SpeedScale,
		},
	}

	if b := snap.Brew; b.Profile != "" {
		inner.Brew = &BrewJSON{
			ShotID:       b.ShotID,
			Profile:      b.Profile,
			Started:      b.Started.UTC().Format(time.RFC3339),
			Tick:         b.Tick,
			Ticks:        b.Ticks,
			ElapsedMs:    b.Elapsed.Milliseconds(),
			TargetBar:    b.Target,
			PressureBar:  b.Pressure,
			TemperatureC: b.Temperature,
			Speed:        b.Speed,
			Fault:        b.Fault,
			Faults:       b.Faults,
			Overruns:     b.Overruns,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
