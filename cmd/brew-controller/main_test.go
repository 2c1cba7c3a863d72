package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/brew-controller/internal/actuator"
	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/gpio"
	"github.com/sweeney/brew-controller/internal/mqtt"
	"github.com/sweeney/brew-controller/internal/profile"
	"github.com/sweeney/brew-controller/internal/pulse"
	"github.com/sweeney/brew-controller/internal/sensor"
	"github.com/sweeney/brew-controller/internal/shotstore"
	"github.com/sweeney/brew-controller/internal/status"
)

var epoch = time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)

// fakeClock advances only when the loop sleeps.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	gen       *pulse.Fake
	enable    *gpio.FakeOutput
	stepper   *actuator.Stepper
	tracker   *status.Tracker
	publisher *mqtt.FakePublisher
	store     *shotstore.Store
	clock     *fakeClock
	deps      brewDeps
}

func newHarness(t *testing.T, pressure, temperature sensor.Sensor) *harness {
	t.Helper()
	h := &harness{
		gen:       pulse.NewFake(),
		enable:    gpio.NewFakeOutput(),
		tracker:   status.NewTracker(epoch, status.Config{SpeedScale: 10}),
		publisher: mqtt.NewFakePublisher(),
		clock:     &fakeClock{now: epoch},
	}

	var err error
	h.stepper, err = actuator.New(actuator.DefaultConfig(), h.gen, h.enable, gpio.NewFakeOutput())
	if err != nil {
		t.Fatalf("actuator.New: %v", err)
	}
	h.store, err = shotstore.Open("")
	if err != nil {
		t.Fatalf("shotstore.Open: %v", err)
	}
	t.Cleanup(func() { h.store.Close() })

	cfg := brew.DefaultConfig()
	cfg.SpinWindow = 0
	ctl, err := brew.New(cfg, pressure, temperature, h.stepper,
		brew.WithClock(h.clock), brew.WithObserver(h.tracker))
	if err != nil {
		t.Fatalf("brew.New: %v", err)
	}

	h.deps = brewDeps{
		controller: ctl,
		tracker:    h.tracker,
		publisher:  h.publisher,
		store:      h.store,
		newID:      func() string { return "shot-1" },
		now:        func() time.Time { return h.clock.now },
	}
	return h
}

func holdProfile() *profile.Profile {
	return &profile.Profile{
		Name:          "flat9",
		TickPeriod:    100 * time.Millisecond,
		TotalDuration: time.Second,
		Stages:        []profile.Stage{profile.Hold(time.Second, 9)},
	}
}

func TestRunBrewStoresAndPublishes(t *testing.T) {
	h := newHarness(t, sensor.Constant(9), sensor.Constant(93))

	shot, err := runBrew(context.Background(), h.deps, holdProfile())
	if err != nil {
		t.Fatalf("runBrew: %v", err)
	}

	if shot.ID != "shot-1" || shot.Result != brew.ResultComplete {
		t.Errorf("shot: id=%q result=%s", shot.ID, shot.Result)
	}
	if len(shot.Log.Records) != 10 {
		t.Errorf("records: got %d, want 10", len(shot.Log.Records))
	}
	if !shot.Finished.Equal(epoch.Add(time.Second)) {
		t.Errorf("Finished: got %v", shot.Finished)
	}

	stored, err := h.store.Get("shot-1")
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if len(stored.Log.Records) != 10 {
		t.Errorf("stored records: got %d, want 10", len(stored.Log.Records))
	}

	if len(h.publisher.Shots) != 1 || h.publisher.Shots[0].ID != "shot-1" {
		t.Errorf("published shots: %+v", h.publisher.Shots)
	}

	snap := h.tracker.Snapshot()
	if snap.Phase != status.PhaseIdle || snap.Brews != 1 || snap.LastResult != brew.ResultComplete {
		t.Errorf("tracker: phase=%s brews=%d result=%s", snap.Phase, snap.Brews, snap.LastResult)
	}
	if snap.Brew.ShotID != "shot-1" {
		t.Errorf("tracker shot id: got %q", snap.Brew.ShotID)
	}

	// At the set point the pump is never energised.
	if h.enable.IsActive() || h.gen.Running() {
		t.Error("pump should be stopped after the brew")
	}
}

func TestRunBrewAbortedShotIsKept(t *testing.T) {
	h := newHarness(t, sensor.Constant(3), sensor.Constant(93))

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(signalError{sig: syscall.SIGINT})

	shot, err := runBrew(ctx, h.deps, holdProfile())
	if !errors.Is(err, brew.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if shot.Result != brew.ResultAborted {
		t.Errorf("Result: got %s, want ABORTED", shot.Result)
	}
	if !strings.Contains(shot.Err, "SIGINT") {
		t.Errorf("Err should name the signal, got %q", shot.Err)
	}
	if _, err := h.store.Get("shot-1"); err != nil {
		t.Errorf("aborted shot should be stored: %v", err)
	}
	if len(h.publisher.Shots) != 1 {
		t.Errorf("aborted shot should be published, got %d", len(h.publisher.Shots))
	}
	if got := shutdownReason(ctx); got != "SIGINT" {
		t.Errorf("shutdownReason: got %q, want SIGINT", got)
	}
}

func TestRunBrewPublishFailureDoesNotFailBrew(t *testing.T) {
	h := newHarness(t, sensor.Constant(9), sensor.Constant(93))
	h.publisher.Err = errors.New("broker down")

	if _, err := runBrew(context.Background(), h.deps, holdProfile()); err != nil {
		t.Fatalf("runBrew: %v", err)
	}
	if _, err := h.store.Get("shot-1"); err != nil {
		t.Errorf("shot should still be stored: %v", err)
	}
}

func TestRunBrewWithoutOutputs(t *testing.T) {
	h := newHarness(t, sensor.Constant(9), sensor.Constant(93))
	h.deps.publisher = nil
	h.deps.store = nil

	shot, err := runBrew(context.Background(), h.deps, holdProfile())
	if err != nil {
		t.Fatalf("runBrew: %v", err)
	}
	if len(shot.Log.Records) != 10 {
		t.Errorf("records: got %d, want 10", len(shot.Log.Records))
	}
}

func TestRunBrewInvalidProfile(t *testing.T) {
	h := newHarness(t, sensor.Constant(9), sensor.Constant(93))

	_, err := runBrew(context.Background(), h.deps, &profile.Profile{Name: "empty"})
	if !errors.Is(err, profile.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if len(h.publisher.Shots) != 0 {
		t.Error("nothing should be published for a profile that never ran")
	}
	if _, err := h.store.Get("shot-1"); !errors.Is(err, shotstore.ErrNotFound) {
		t.Errorf("nothing should be stored, got %v", err)
	}
	if snap := h.tracker.Snapshot(); snap.Phase != status.PhaseFault {
		t.Errorf("Phase: got %s, want FAULT", snap.Phase)
	}
}

func TestRunBrewActuatorFailure(t *testing.T) {
	h := newHarness(t, sensor.Constant(0), sensor.Constant(93))
	h.gen.FailNext = errors.New("pwm busy")

	shot, err := runBrew(context.Background(), h.deps, holdProfile())
	if !errors.Is(err, actuator.ErrProgramming) {
		t.Fatalf("expected ErrProgramming, got %v", err)
	}
	if shot.Result != brew.ResultFailed {
		t.Errorf("Result: got %s, want FAILED", shot.Result)
	}
	if len(h.publisher.Shots) != 1 {
		t.Errorf("failed shot should be published, got %d", len(h.publisher.Shots))
	}
	if snap := h.tracker.Snapshot(); snap.Phase != status.PhaseFault {
		t.Errorf("Phase: got %s, want FAULT", snap.Phase)
	}
}

func TestHomeStepper(t *testing.T) {
	cfg := actuator.DefaultConfig()
	cfg.HomingPoll = time.Millisecond

	t.Run("reaches switch", func(t *testing.T) {
		s, err := actuator.New(cfg, pulse.NewFake(), gpio.NewFakeOutput(), gpio.NewFakeOutput())
		if err != nil {
			t.Fatal(err)
		}
		tr := status.NewTracker(epoch, status.Config{})

		if err := homeStepper(context.Background(), tr, s, gpio.NewFakeInput(false, false, true)); err != nil {
			t.Fatalf("homeStepper: %v", err)
		}
		if p := tr.Snapshot().Phase; p != status.PhaseIdle {
			t.Errorf("Phase: got %s, want IDLE", p)
		}
	})

	t.Run("times out", func(t *testing.T) {
		cfg := cfg
		cfg.HomingTimeout = 20 * time.Millisecond
		s, err := actuator.New(cfg, pulse.NewFake(), gpio.NewFakeOutput(), gpio.NewFakeOutput())
		if err != nil {
			t.Fatal(err)
		}
		tr := status.NewTracker(epoch, status.Config{})

		err = homeStepper(context.Background(), tr, s, gpio.NewFakeInput(false))
		if !errors.Is(err, actuator.ErrHomingTimeout) {
			t.Fatalf("expected ErrHomingTimeout, got %v", err)
		}
		snap := tr.Snapshot()
		if snap.Phase != status.PhaseFault || !strings.Contains(snap.LastError, "homing") {
			t.Errorf("tracker: phase=%s error=%q", snap.Phase, snap.LastError)
		}
	})
}

func TestPublishSystem(t *testing.T) {
	tr := status.NewTracker(epoch, status.Config{Broker: "tcp://localhost:1883"})
	pub := mqtt.NewFakePublisher()
	pub.Connected = true

	publishSystem(pub, tr, mqtt.EventStartup, "")
	publishSystem(pub, tr, mqtt.EventShutdown, "SIGTERM")

	if len(pub.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(pub.Events))
	}
	if ev := pub.Events[0]; ev.Event != "STARTUP" || !ev.Retained {
		t.Errorf("startup event: %+v", ev)
	}
	if msgs := pub.OnTopic(mqtt.TopicSystem); !strings.Contains(string(msgs[1].Payload), `"reason":"SIGTERM"`) {
		t.Errorf("shutdown payload: %s", msgs[1].Payload)
	}
	if !tr.Snapshot().MQTTConnected {
		t.Error("tracker should reflect the publisher connection")
	}

	// A nil publisher is a disabled broker.
	publishSystem(nil, tr, mqtt.EventStartup, "")
}

func TestShutdownReason(t *testing.T) {
	if got := shutdownReason(context.Background()); got != "EXIT" {
		t.Errorf("live context: got %q, want EXIT", got)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(signalError{sig: syscall.SIGTERM})
	if got := shutdownReason(ctx); got != "SIGTERM" {
		t.Errorf("signalled: got %q, want SIGTERM", got)
	}

	ctx, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if got := shutdownReason(ctx); got != "EXIT" {
		t.Errorf("plain cancel: got %q, want EXIT", got)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

const validProfile = `
name: flat9
tick_period_ms: 100
stages:
  - type: hold
    duration_ms: 2000
    pressure_bar: 9
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateProfiles(t *testing.T) {
	good := writeFile(t, "flat9.yaml", validProfile)
	bad := writeFile(t, "bad.yaml", "stages: []\n")

	var buf bytes.Buffer
	if err := validateProfiles(&buf, []string{good}); err != nil {
		t.Fatalf("valid profile: %v", err)
	}
	if !strings.Contains(buf.String(), "flat9, 1 stages, 20 ticks") {
		t.Errorf("output: %q", buf.String())
	}

	buf.Reset()
	err := validateProfiles(&buf, []string{good, bad})
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("expected 1 of 2 invalid, got %v", err)
	}
	if !strings.Contains(buf.String(), "FAIL "+bad) {
		t.Errorf("output should flag %s: %q", bad, buf.String())
	}
}

func TestValidateCommand(t *testing.T) {
	good := writeFile(t, "flat9.yaml", validProfile)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"validate", good})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ok") {
		t.Errorf("output: %q", out.String())
	}
}

func TestBrewCommandRequiresProfile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"brew"})

	if err := root.Execute(); err == nil {
		t.Error("expected an argument error")
	}
}

func TestListAndPrintShots(t *testing.T) {
	h := newHarness(t, sensor.Constant(9), sensor.Constant(93))
	if _, err := runBrew(context.Background(), h.deps, holdProfile()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := listShots(&buf, h.store, 5); err != nil {
		t.Fatalf("listShots: %v", err)
	}
	for _, want := range []string{"ID", "shot-1", "flat9", "COMPLETE", "9.00"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("list missing %q: %q", want, buf.String())
		}
	}

	buf.Reset()
	if err := printShot(&buf, h.store, "shot-1"); err != nil {
		t.Fatalf("printShot: %v", err)
	}
	shot, err := brew.ParseShot(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseShot: %v", err)
	}
	if shot.ID != "shot-1" {
		t.Errorf("ID: got %q", shot.ID)
	}

	if err := printShot(&buf, h.store, "nope"); !errors.Is(err, shotstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := listShots(&buf, h.store, 0); err == nil {
		t.Error("expected error for zero limit")
	}
}

func TestListShotsEmpty(t *testing.T) {
	store, err := shotstore.Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var buf bytes.Buffer
	if err := listShots(&buf, store, 5); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "no shots" {
		t.Errorf("output: %q", buf.String())
	}
}
