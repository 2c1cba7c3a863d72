package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/xid"

	"github.com/sweeney/brew-controller/internal/actuator"
	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/config"
	"github.com/sweeney/brew-controller/internal/metrics"
	"github.com/sweeney/brew-controller/internal/mqtt"
	"github.com/sweeney/brew-controller/internal/profile"
	"github.com/sweeney/brew-controller/internal/shotstore"
	"github.com/sweeney/brew-controller/internal/status"
	"github.com/sweeney/brew-controller/internal/web"
)

const sensorWarmup = 2 * time.Second

// runBrewCommand wires the hardware and outer surfaces around one brew.
func runBrewCommand(ctx context.Context, cfg *config.Config, p *profile.Profile, home bool) error {
	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:     cfg.MQTT.Broker,
		HTTPAddr:   cfg.HTTP.Addr,
		SerialPort: cfg.Sensor.Port,
		StorePath:  cfg.Store.Path,
		SpeedScale: cfg.Brew.SpeedScale,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	store, err := shotstore.Open(cfg.Store.Path)
	if err != nil {
		log.Printf("shotstore: %v; shots will not be stored", err)
	} else {
		defer store.Close()
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			log.Printf("mqtt: %v; shots will not be published", err)
		} else {
			publisher = pub
			defer pub.Close()
		}
	}

	if cfg.HTTP.Addr != "" {
		opts := web.Options{Gatherer: reg}
		if store != nil {
			opts.Shots = store
		}
		srv := web.New(cfg.HTTP.Addr, tracker, opts)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	publishSystem(publisher, tracker, mqtt.EventStartup, "")
	defer func() {
		publishSystem(publisher, tracker, mqtt.EventShutdown, shutdownReason(ctx))
	}()

	r, err := openRig(cfg)
	if err != nil {
		tracker.SetError(err)
		return err
	}
	defer r.Close()
	tracker.SetActuatorSource(r.stepper.State)

	if home {
		if err := homeStepper(ctx, tracker, r.stepper, r.home); err != nil {
			return err
		}
	}

	// The bridge outlives the brew only until this function returns.
	sensorCtx, stopSensors := context.WithCancel(ctx)
	defer stopSensors()
	sens, err := openSensors(sensorCtx, cfg.Sensor)
	if err != nil {
		tracker.SetError(err)
		return err
	}
	if err := sens.await(ctx, sensorWarmup); err != nil {
		tracker.SetError(err)
		return err
	}

	ctl, err := brew.New(cfg.Brew, sens.pressure, sens.temperature, r.stepper,
		brew.WithObserver(tracker),
		brew.WithObserver(m),
	)
	if err != nil {
		return err
	}

	var saver shotSaver
	if store != nil {
		saver = store
	}
	_, err = runBrew(ctx, brewDeps{
		controller: ctl,
		tracker:    tracker,
		publisher:  publisher,
		store:      saver,
		newID:      func() string { return xid.New().String() },
		now:        time.Now,
	}, p)
	return err
}

type shotSaver interface {
	Save(shot brew.Shot) error
}

// brewDeps are the collaborators of one brew. publisher and store may be nil.
type brewDeps struct {
	controller *brew.Controller
	tracker    *status.Tracker
	publisher  mqtt.Publisher
	store      shotSaver
	newID      func() string
	now        func() time.Time
}

// runBrew runs p and hands the finished shot to the store and the broker.
// Storage and publish failures are logged; only the brew outcome is returned.
func runBrew(ctx context.Context, d brewDeps, p *profile.Profile) (brew.Shot, error) {
	id := d.newID()
	d.tracker.SetShotID(id)
	log.Printf("brew %s: profile=%s ticks=%d period=%v", id, p.Name, p.Ticks(), p.TickPeriod)

	shotLog, err := d.controller.Run(ctx, p)
	if errors.Is(err, profile.ErrInvalidProfile) {
		// Nothing ran, so there is no shot to keep.
		d.tracker.SetError(err)
		return brew.Shot{}, err
	}

	shot := brew.NewShot(id, shotLog, d.now(), err)
	sum := shotLog.Summary()
	log.Printf("brew %s: %s after %d ticks peak=%s bar faults=%d overruns=%d",
		id, shot.Result, sum.Ticks, sum.PeakPressure, sum.PressureFaults+sum.TemperatureFaults, sum.Overruns)
	if err != nil {
		log.Printf("brew %s: %v", id, err)
	}

	if d.store != nil {
		if serr := d.store.Save(shot); serr != nil {
			log.Printf("brew %s: store: %v", id, serr)
		}
	}
	if d.publisher != nil {
		if perr := d.publisher.PublishShot(shot); perr != nil {
			log.Printf("brew %s: publish: %v", id, perr)
		}
	}
	return shot, err
}

// homer is satisfied by *actuator.Stepper.
type homer interface {
	Home(ctx context.Context, probe actuator.Probe) error
}

// homeStepper homes the pump and keeps the tracker phase in step.
func homeStepper(ctx context.Context, tracker *status.Tracker, h homer, probe actuator.Probe) error {
	tracker.SetPhase(status.PhaseHoming)
	log.Printf("homing: started")
	if err := h.Home(ctx, probe); err != nil {
		err = fmt.Errorf("homing: %w", err)
		tracker.SetError(err)
		return err
	}
	tracker.SetPhase(status.PhaseIdle)
	log.Printf("homing: complete")
	return nil
}

// publishSystem sends a lifecycle event carrying a status snapshot.
func publishSystem(p mqtt.Publisher, tracker *status.Tracker, event, reason string) {
	if p == nil {
		return
	}
	if cs, ok := p.(mqtt.ConnectionStatus); ok {
		tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := p.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}
