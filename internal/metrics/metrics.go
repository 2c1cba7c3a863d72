// Package metrics exports brew loop telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/profile"
)

const namespace = "brew"

// Metrics is a brew.Observer that updates Prometheus collectors.
type Metrics struct {
	targetPressure prometheus.Gauge
	pressure       prometheus.Gauge
	temperature    prometheus.Gauge
	controlSignal  prometheus.Gauge
	pumpSpeed      prometheus.Gauge
	brewing        prometheus.Gauge
	ticksTotal     prometheus.Counter
	overrunsTotal  prometheus.Counter
	sensorFaults   *prometheus.CounterVec
	brewsTotal     *prometheus.CounterVec
	brewDuration   prometheus.Histogram
}

var _ brew.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		targetPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_pressure_bar",
			Help:      "Profile target pressure for the current tick",
		}),
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_bar",
			Help:      "Measured group head pressure",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Measured brew water temperature",
		}),
		controlSignal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_signal",
			Help:      "PID regulator output",
		}),
		pumpSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_speed_steps_per_second",
			Help:      "Commanded pump stepper speed",
		}),
		brewing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "brewing_binary",
			Help:      "Registers when a brew is running",
		}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop ticks executed",
		}),
		overrunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Ticks that finished after their deadline",
		}),
		sensorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_faults_total",
			Help:      "Ticks recorded with an absent sensor reading",
		}, []string{"sensor"}),
		brewsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "brews_total",
			Help:      "Finished brews by result",
		}, []string{"result"}),
		brewDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Wall clock duration of finished brews",
			Buckets:   []float64{5, 10, 20, 25, 30, 35, 40, 60, 90},
		}),
	}

	reg.MustRegister(
		m.targetPressure,
		m.pressure,
		m.temperature,
		m.controlSignal,
		m.pumpSpeed,
		m.brewing,
		m.ticksTotal,
		m.overrunsTotal,
		m.sensorFaults,
		m.brewsTotal,
		m.brewDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// OnBrewStart marks a brew as running.
func (m *Metrics) OnBrewStart(p *profile.Profile, started time.Time) {
	m.brewing.Set(1)
}

// OnTick updates per-tick gauges. Gauges for absent readings keep their
// previous value.
func (m *Metrics) OnTick(rec brew.Record) {
	m.ticksTotal.Inc()
	m.targetPressure.Set(rec.Target)

	if rec.Pressure.Valid {
		m.pressure.Set(rec.Pressure.Value)
	} else {
		m.sensorFaults.WithLabelValues("pressure").Inc()
	}
	if rec.Temperature.Valid {
		m.temperature.Set(rec.Temperature.Value)
	} else {
		m.sensorFaults.WithLabelValues("temperature").Inc()
	}

	if rec.Actuated {
		m.controlSignal.Set(rec.ControlSignal)
		m.pumpSpeed.Set(rec.Speed)
	}
	if rec.Overrun > 0 {
		m.overrunsTotal.Inc()
	}
}

// OnBrewEnd counts the result and clears the running gauges.
func (m *Metrics) OnBrewEnd(shot brew.ShotLog, err error) {
	m.brewing.Set(0)
	m.pumpSpeed.Set(0)
	m.brewsTotal.WithLabelValues(string(brew.ResultOf(err))).Inc()

	if n := len(shot.Records); n > 0 {
		m.brewDuration.Observe(shot.Records[n-1].Elapsed.Seconds() + shot.TickPeriod.Seconds())
	}
}
