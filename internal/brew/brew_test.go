package brew

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/brew-controller/internal/actuator"
	"github.com/sweeney/brew-controller/internal/gpio"
	"github.com/sweeney/brew-controller/internal/pid"
	"github.com/sweeney/brew-controller/internal/profile"
	"github.com/sweeney/brew-controller/internal/pulse"
	"github.com/sweeney/brew-controller/internal/sensor"
)

const ms = time.Millisecond

var epoch = time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)

// fakeClock advances only when the loop sleeps or a test moves it.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

type fakeActuator struct {
	speeds []float64
	stops  int

	// failAt is the 1-based SetSpeed call that fails; 0 never fails.
	failAt  int
	failErr error
	stopErr error

	onSet func(call int)
}

func (a *fakeActuator) SetSpeed(speed float64) error {
	a.speeds = append(a.speeds, speed)
	call := len(a.speeds)
	if a.onSet != nil {
		a.onSet(call)
	}
	if call == a.failAt {
		return a.failErr
	}
	return nil
}

func (a *fakeActuator) Stop() error {
	a.stops++
	return a.stopErr
}

type recordingObserver struct {
	events []string
	ticks  []Record
	ended  *ShotLog
	endErr error
	onTick func(rec Record)
}

func (o *recordingObserver) OnBrewStart(p *profile.Profile, started time.Time) {
	o.events = append(o.events, "start:"+p.Name)
}

func (o *recordingObserver) OnTick(rec Record) {
	o.events = append(o.events, "tick")
	o.ticks = append(o.ticks, rec)
	if o.onTick != nil {
		o.onTick(rec)
	}
}

func (o *recordingObserver) OnBrewEnd(shot ShotLog, err error) {
	o.events = append(o.events, "end")
	o.ended = &shot
	o.endErr = err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SpinWindow = 0
	return cfg
}

func newController(t *testing.T, pressure, temperature sensor.Sensor, act Actuator, opts ...Option) *Controller {
	t.Helper()
	c, err := New(testConfig(), pressure, temperature, act, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func holdProfile(d time.Duration, bar float64) *profile.Profile {
	return &profile.Profile{
		Name:          "hold",
		TickPeriod:    100 * ms,
		TotalDuration: d,
		Stages:        []profile.Stage{profile.Hold(d, bar)},
	}
}

func TestHoldAtSetpointNeverEnablesPump(t *testing.T) {
	gen := pulse.NewFake()
	enable := gpio.NewFakeOutput()
	stepper, err := actuator.New(actuator.DefaultConfig(), gen, enable, gpio.NewFakeOutput())
	if err != nil {
		t.Fatal(err)
	}
	clock := newFakeClock()
	c := newController(t, sensor.Constant(3.0), sensor.Constant(93), stepper, WithClock(clock))

	shot, err := c.Run(context.Background(), holdProfile(2000*ms, 3.0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(shot.Records) != 20 {
		t.Fatalf("records: got %d, want 20", len(shot.Records))
	}
	for i, r := range shot.Records {
		if r.Elapsed != time.Duration(i)*100*ms {
			t.Errorf("tick %d: elapsed %v", i, r.Elapsed)
		}
		if r.Target != 3.0 || r.ControlSignal != 0 || r.Speed != 0 {
			t.Errorf("tick %d: target=%v control=%v speed=%v", i, r.Target, r.ControlSignal, r.Speed)
		}
		if r.Pressure != sensor.Valid(3.0) || r.Temperature != sensor.Valid(93) {
			t.Errorf("tick %d: readings %v %v", i, r.Pressure, r.Temperature)
		}
	}

	if len(gen.History) != 0 {
		t.Errorf("generator programmed: %v", gen.History)
	}
	for _, level := range enable.History() {
		if level {
			t.Fatal("enable line was energised")
		}
	}
	if st := stepper.State(); st.Enabled || st.FrequencyHz != 0 {
		t.Errorf("stepper state: %+v", st)
	}
	if got := clock.now.Sub(epoch); got != 2*time.Second {
		t.Errorf("brew took %v of clock time, want 2s", got)
	}
}

func TestRampTargets(t *testing.T) {
	p := &profile.Profile{
		Name:          "ramp",
		TickPeriod:    100 * ms,
		TotalDuration: 1500 * ms,
		Stages:        []profile.Stage{profile.Ramp(1000*ms, 0, 9)},
	}
	act := &fakeActuator{}
	c := newController(t, sensor.Constant(0), sensor.Constant(93), act, WithClock(newFakeClock()))

	shot, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(shot.Records) != 15 {
		t.Fatalf("records: got %d, want 15", len(shot.Records))
	}

	want := map[int]float64{0: 0, 5: 4.5, 10: 9, 14: 9}
	for tick, target := range want {
		if got := shot.Records[tick].Target; math.Abs(got-target) > 1e-9 {
			t.Errorf("tick %d target: got %v, want %v", tick, got, target)
		}
	}
	if len(act.speeds) != 15 {
		t.Errorf("SetSpeed calls: got %d, want 15", len(act.speeds))
	}
	if act.stops != 1 {
		t.Errorf("Stop calls: got %d, want 1", act.stops)
	}
}

func TestSpeedIsScaledControlSignal(t *testing.T) {
	act := &fakeActuator{}
	c := newController(t, sensor.Constant(1.0), sensor.Constant(93), act, WithClock(newFakeClock()))

	shot, err := c.Run(context.Background(), holdProfile(300*ms, 4.0))
	if err != nil {
		t.Fatal(err)
	}

	reg, _ := pid.New(pid.Config{Kp: 0.7, Ki: 0.02, Kd: 0.001, WindupMin: -10, WindupMax: 10, Dt: 100 * ms})
	for i, r := range shot.Records {
		want := reg.Update(1.0, 4.0)
		if math.Abs(r.ControlSignal-want) > 1e-9 {
			t.Errorf("tick %d control: got %v, want %v", i, r.ControlSignal, want)
		}
		if math.Abs(r.Speed-want*10) > 1e-9 {
			t.Errorf("tick %d speed: got %v, want %v", i, r.Speed, want*10)
		}
		if act.speeds[i] != r.Speed {
			t.Errorf("tick %d commanded %v, recorded %v", i, act.speeds[i], r.Speed)
		}
	}
}

func TestTemperatureFaultRecordedAndTickProceeds(t *testing.T) {
	temp := &sensor.Fake{Samples: []*float64{sensor.Float(93), nil, sensor.Float(93.5)}}
	act := &fakeActuator{}
	c := newController(t, sensor.Constant(2.0), temp, act, WithClock(newFakeClock()))

	shot, err := c.Run(context.Background(), holdProfile(300*ms, 3.0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	faulted := shot.Records[1]
	if faulted.Temperature.Valid {
		t.Errorf("expected absent temperature, got %v", faulted.Temperature)
	}
	if !strings.Contains(faulted.Fault, "temperature") {
		t.Errorf("fault description: %q", faulted.Fault)
	}
	if faulted.Target != 3.0 || faulted.Pressure != sensor.Valid(2.0) || !faulted.Actuated {
		t.Errorf("faulted tick not processed: %+v", faulted)
	}

	// Control processing is unaffected by the absent temperature.
	reg, _ := pid.New(pid.Config{Kp: 0.7, Ki: 0.02, Kd: 0.001, WindupMin: -10, WindupMax: 10, Dt: 100 * ms})
	reg.Update(2.0, 3.0)
	if want := reg.Update(2.0, 3.0); math.Abs(faulted.ControlSignal-want) > 1e-9 {
		t.Errorf("control signal: got %v, want %v", faulted.ControlSignal, want)
	}
	if len(act.speeds) != 3 {
		t.Errorf("SetSpeed calls: got %d, want 3", len(act.speeds))
	}
	if shot.Records[2].Fault != "" || !shot.Records[2].Temperature.Valid {
		t.Errorf("tick 2 should have recovered: %+v", shot.Records[2])
	}
}

func TestPressureFaultSkipsActuation(t *testing.T) {
	pressure := &sensor.Fake{Samples: []*float64{sensor.Float(2.0), nil, sensor.Float(2.5)}}
	act := &fakeActuator{}
	c := newController(t, pressure, sensor.Constant(93), act, WithClock(newFakeClock()))

	shot, err := c.Run(context.Background(), holdProfile(300*ms, 3.0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(shot.Records) != 3 {
		t.Fatalf("records: got %d, want 3", len(shot.Records))
	}

	faulted := shot.Records[1]
	if faulted.Pressure.Valid || faulted.Actuated || faulted.Speed != 0 {
		t.Errorf("faulted tick: %+v", faulted)
	}
	if !strings.Contains(faulted.Fault, "pressure") {
		t.Errorf("fault description: %q", faulted.Fault)
	}
	if len(act.speeds) != 2 {
		t.Errorf("SetSpeed calls: got %d, want 2", len(act.speeds))
	}
}

func TestActuatorFailureStopsAndKeepsPartialLog(t *testing.T) {
	cause := errors.New("frequency rejected")
	act := &fakeActuator{failAt: 3, failErr: cause}
	obs := &recordingObserver{}
	c := newController(t, sensor.Constant(0), sensor.Constant(93), act,
		WithClock(newFakeClock()), WithObserver(obs))

	shot, err := c.Run(context.Background(), holdProfile(1000*ms, 9.0))
	if !errors.Is(err, cause) {
		t.Fatalf("expected actuator error, got %v", err)
	}
	if len(shot.Records) != 2 {
		t.Errorf("partial log: got %d records, want 2", len(shot.Records))
	}
	if act.stops != 1 {
		t.Errorf("Stop calls: got %d, want 1", act.stops)
	}
	if len(act.speeds) != 3 {
		t.Errorf("pump commanded after failure: %d calls", len(act.speeds))
	}
	if ResultOf(err) != ResultFailed {
		t.Errorf("result: got %s", ResultOf(err))
	}
	if obs.ended == nil || len(obs.ended.Records) != 2 || !errors.Is(obs.endErr, cause) {
		t.Error("observer should see the partial log and the error")
	}
}

func TestPanicDuringTickStillStopsPump(t *testing.T) {
	act := &fakeActuator{onSet: func(call int) {
		if call == 2 {
			panic("regulator blew up")
		}
	}}
	obs := &recordingObserver{}
	c := newController(t, sensor.Constant(0), sensor.Constant(93), act,
		WithClock(newFakeClock()), WithObserver(obs))

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		c.Run(context.Background(), holdProfile(1000*ms, 9.0))
	}()

	if act.stops != 1 {
		t.Errorf("Stop calls: got %d, want 1", act.stops)
	}
	if obs.ended == nil || len(obs.ended.Records) != 1 {
		t.Error("observer should see the end of the brew with the completed ticks")
	}
}

func TestCancellationStopsPump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	act := &fakeActuator{}
	obs := &recordingObserver{onTick: func(rec Record) {
		if rec.Tick == 3 {
			cancel()
		}
	}}
	c := newController(t, sensor.Constant(5), sensor.Constant(93), act,
		WithClock(newFakeClock()), WithObserver(obs))

	shot, err := c.Run(ctx, holdProfile(2000*ms, 9.0))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cause in chain, got %v", err)
	}
	if len(shot.Records) != 4 {
		t.Errorf("records: got %d, want 4", len(shot.Records))
	}
	if act.stops != 1 {
		t.Errorf("Stop calls: got %d, want 1", act.stops)
	}
	if ResultOf(err) != ResultAborted {
		t.Errorf("result: got %s", ResultOf(err))
	}
}

func TestInvalidProfileNeverStarts(t *testing.T) {
	act := &fakeActuator{}
	obs := &recordingObserver{}
	c := newController(t, sensor.Constant(0), sensor.Constant(0), act, WithObserver(obs))

	_, err := c.Run(context.Background(), &profile.Profile{Name: "empty", TickPeriod: 100 * ms, TotalDuration: time.Second})
	if !errors.Is(err, profile.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if len(act.speeds) != 0 || act.stops != 0 || len(obs.events) != 0 {
		t.Errorf("loop entered: speeds=%v stops=%d events=%v", act.speeds, act.stops, obs.events)
	}
}

func TestOverrunProceedsWithoutCatchUp(t *testing.T) {
	clock := newFakeClock()
	act := &fakeActuator{onSet: func(call int) {
		if call == 2 {
			clock.now = clock.now.Add(150 * ms)
		}
	}}
	c := newController(t, sensor.Constant(9), sensor.Constant(93), act, WithClock(clock))

	shot, err := c.Run(context.Background(), holdProfile(500*ms, 9.0))
	if err != nil {
		t.Fatal(err)
	}
	if len(shot.Records) != 5 {
		t.Fatalf("records: got %d, want 5", len(shot.Records))
	}
	if got := shot.Records[1].Overrun; got != 50*ms {
		t.Errorf("overrun: got %v, want 50ms", got)
	}
	for _, i := range []int{0, 2, 3, 4} {
		if shot.Records[i].Overrun != 0 {
			t.Errorf("tick %d: unexpected overrun %v", i, shot.Records[i].Overrun)
		}
	}
	if len(clock.sleeps) != 4 {
		t.Errorf("sleeps: got %d, want 4", len(clock.sleeps))
	}
	if got := clock.now.Sub(epoch); got != 550*ms {
		t.Errorf("total time: got %v, want 550ms", got)
	}
	if shot.Summary().Overruns != 1 {
		t.Errorf("summary overruns: got %d", shot.Summary().Overruns)
	}
}

func TestStopErrorJoined(t *testing.T) {
	stopErr := errors.New("enable line stuck")
	act := &fakeActuator{stopErr: stopErr}
	c := newController(t, sensor.Constant(9), sensor.Constant(93), act, WithClock(newFakeClock()))

	shot, err := c.Run(context.Background(), holdProfile(200*ms, 9.0))
	if !errors.Is(err, stopErr) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if len(shot.Records) != 2 {
		t.Errorf("records: got %d, want 2", len(shot.Records))
	}
}

func TestObserverOrder(t *testing.T) {
	obs := &recordingObserver{}
	c := newController(t, sensor.Constant(9), sensor.Constant(93), &fakeActuator{},
		WithClock(newFakeClock()), WithObserver(obs))

	if _, err := c.Run(context.Background(), holdProfile(300*ms, 9.0)); err != nil {
		t.Fatal(err)
	}
	want := []string{"start:hold", "tick", "tick", "tick", "end"}
	if strings.Join(obs.events, ",") != strings.Join(want, ",") {
		t.Errorf("events: got %v, want %v", obs.events, want)
	}
	if obs.endErr != nil {
		t.Errorf("end error: %v", obs.endErr)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeedScale = math.NaN()
	if _, err := New(cfg, sensor.Constant(0), sensor.Constant(0), &fakeActuator{}); err == nil {
		t.Error("expected error for NaN speed scale")
	}

	cfg = DefaultConfig()
	cfg.SpinWindow = -ms
	if _, err := New(cfg, sensor.Constant(0), sensor.Constant(0), &fakeActuator{}); err == nil {
		t.Error("expected error for negative spin window")
	}
}

func TestSpinWindowSleepsShort(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.SpinWindow = 2 * ms
	// The fake clock never moves during the spin, so give it a nudge.
	spinClock := &nudgingClock{fakeClock: clock}
	c, err := New(cfg, sensor.Constant(9), sensor.Constant(93), &fakeActuator{}, WithClock(spinClock))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Run(context.Background(), holdProfile(100*ms, 9.0)); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 98*ms {
		t.Errorf("sleeps: got %v, want [98ms]", clock.sleeps)
	}
}

// nudgingClock advances 1ms on every Now call made after the first sleep.
type nudgingClock struct {
	*fakeClock
}

func (c *nudgingClock) Now() time.Time {
	if len(c.sleeps) > 0 {
		c.now = c.now.Add(ms)
	}
	return c.now
}
