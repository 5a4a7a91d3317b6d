package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/fermenter/internal/brewersfriend"
	"github.com/sweeney/fermenter/internal/command"
	"github.com/sweeney/fermenter/internal/config"
	"github.com/sweeney/fermenter/internal/control"
	"github.com/sweeney/fermenter/internal/logger"
	"github.com/sweeney/fermenter/internal/mqtt"
	"github.com/sweeney/fermenter/internal/sensor"
	"github.com/sweeney/fermenter/internal/status"
	"github.com/sweeney/fermenter/internal/web"
)

const commandBuffer = 8

// pusher sends readings to a remote logging service at its own pace.
type pusher interface {
	Due() bool
	Update(ctx context.Context, beer, fridge, gravity float64) error
}

func run(cfg *config.Config) error {
	ctx := logger.WithName(context.Background(), "fermenter")
	defer logger.Sync()

	tracker := status.NewTracker(time.Now(), status.Config{
		IntervalMs:   cfg.Control.Interval.Milliseconds(),
		MinOffTimeMs: cfg.Control.MinOffTime.Milliseconds(),
		MinOnTimeMs:  cfg.Control.MinOnTime.Milliseconds(),
		HeartbeatMs:  cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
		FridgeSensor: cfg.FridgeTemperature.Type,
		BeerSensor:   cfg.BeerTemperature.Type,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	publisher := openBroker(cfg.MQTT, tracker.SetMQTTConnected)
	defer publisher.Close()

	sensors, err := openSensors(ctx, cfg, publisher)
	if err != nil {
		return err
	}
	defer sensors.Close()

	cooler, err := openRelay("compressor", cfg.CompressorRelay)
	if err != nil {
		return err
	}
	defer cooler.Close()

	machineOpts := []control.Option{control.WithTimers(control.Timers{
		MinOff: cfg.Control.MinOffTime,
		MinOn:  cfg.Control.MinOnTime,
	})}
	if cfg.HeaterRelay != nil {
		heater, err := openRelay("heater", *cfg.HeaterRelay)
		if err != nil {
			return err
		}
		defer heater.Close()
		machineOpts = append(machineOpts, control.WithHeater(heater))
	}

	machine := control.NewMachine(cooler, machineOpts...)
	if err := machine.SetSetpoint(cfg.Control.Setpoint); err != nil {
		return err
	}
	if err := machine.SetHysteresis(cfg.Control.Hysteresis); err != nil {
		return err
	}
	// The previous output state is unknown, so start from off. This also
	// restarts the minimum off time.
	if err := machine.Stop(); err != nil {
		return fmt.Errorf("switch outputs off: %w", err)
	}

	commands := make(chan command.Command, commandBuffer)
	if cfg.MQTT.Broker != "" {
		topic := mqtt.NewTopics(cfg.MQTT.TopicPrefix).Command
		err := publisher.Subscribe(topic, func(payload []byte) {
			cmd, err := command.Parse(payload)
			if err != nil {
				logger.Warnf(ctx, "rejected mqtt command: %v", err)
				return
			}
			cmd.Source = "mqtt"
			select {
			case commands <- cmd:
			default:
				logger.Warnf(ctx, "command channel full, dropping mqtt command")
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe commands: %w", err)
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, commands)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf(ctx, "http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infof(ctx, "http dashboard listening on %s", cfg.HTTP.Addr)
	}

	d := &daemon{
		machine:        machine,
		cooler:         cooler,
		fridge:         sensors.fridge,
		beer:           sensors.beer,
		gravity:        sensors.gravity,
		publisher:      publisher,
		mqttStatus:     publisher,
		tracker:        tracker,
		pushers:        openPushers(cfg.Integrations),
		commands:       commands,
		heartbeat:      cfg.MQTT.Heartbeat,
		telemetryEvery: cfg.MQTT.TelemetryInterval,
		now:            time.Now,
	}
	d.startup(ctx, cfg.Control.AutoStart)

	logger.InfoKV(ctx, "started",
		"setpoint", cfg.Control.Setpoint,
		"hysteresis", cfg.Control.Hysteresis,
		"min_off", cfg.Control.MinOffTime,
		"min_on", cfg.Control.MinOnTime,
		"interval", cfg.Control.Interval,
		"broker", cfg.MQTT.Broker,
	)

	ticker := time.NewTicker(cfg.Control.Interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.run(ctx, ticker.C, sigCh)
}

// daemon is the control loop. Only its goroutine touches the machine;
// everything else sees the status tracker.
type daemon struct {
	machine        *control.Machine
	cooler         control.Actuator
	fridge         sensor.Source
	beer           sensor.Source
	gravity        func() float64
	publisher      mqtt.Publisher
	mqttStatus     mqtt.ConnectionStatus
	tracker        *status.Tracker
	pushers        []pusher
	commands       <-chan command.Command
	heartbeat      time.Duration
	telemetryEvery time.Duration
	now            func() time.Time

	counts        status.Counts
	lastTelemetry time.Time
	lastHeartbeat time.Time
	pushes        sync.WaitGroup
}

// startup publishes the STARTUP event and optionally starts control.
func (d *daemon) startup(ctx context.Context, autoStart bool) {
	d.lastHeartbeat = d.now()
	if autoStart {
		d.machine.Start()
		logger.Infof(ctx, "control started")
	} else {
		logger.Infof(ctx, "control stopped, waiting for a start command")
	}
	d.refreshControl()
	d.publishSystem(ctx, "STARTUP", "", true)
}

func (d *daemon) run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.shutdown(ctx, s)
			return nil
		case cmd := <-d.commands:
			d.handleCommand(ctx, cmd)
		case <-tick:
			d.tick(ctx)
		}
	}
}

func (d *daemon) tick(ctx context.Context) {
	t := d.now()

	fridge, beer, err := d.read()
	if err != nil {
		d.skip(ctx, t, err)
		return
	}

	dec, err := d.machine.Tick(fridge, beer)
	if errors.Is(err, control.ErrInvalidReading) {
		d.skip(ctx, t, err)
		return
	}
	if err != nil {
		logger.ErrorKV(ctx, "actuator command failed", "state", dec.From, "error", err)
	}

	if dec.Transitioned() {
		d.counts.Record(dec.Effect)
		logTransition(ctx, dec)
		if err := d.publisher.Publish(mqtt.Event{Timestamp: t, Decision: dec}); err != nil {
			logger.Warnf(ctx, "publish error: %v", err)
		}
	} else {
		logger.DebugKV(ctx, "tick",
			"state", dec.To,
			"fridge", dec.Fridge,
			"beer", dec.Beer,
			"fridge_setpoint", dec.FridgeSetpoint,
			"relay_elapsed", d.cooler.Elapsed().Truncate(time.Second),
		)
	}

	gravity := d.gravity()
	d.tracker.Update(func(s *status.Snapshot) {
		d.fillControl(s)
		s.Fridge = dec.Fridge
		s.Beer = dec.Beer
		s.Gravity = gravity
		s.FridgeSetpoint = dec.FridgeSetpoint
		s.SensorError = ""
		s.LastTick = t
		s.MQTTConnected = d.mqttStatus.IsConnected()
	})

	d.maybeTelemetry(ctx, t, dec, gravity)
	d.maybeHeartbeat(ctx, t)
	d.push(ctx, beer, fridge, gravity)
}

func (d *daemon) read() (fridge, beer float64, err error) {
	fridge, err = d.fridge.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("fridge sensor: %w", err)
	}
	beer, err = d.beer.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("beer sensor: %w", err)
	}
	return fridge, beer, nil
}

// skip records a tick that could not be evaluated. The machine and its
// outputs are left as they are.
func (d *daemon) skip(ctx context.Context, t time.Time, err error) {
	d.counts.SkippedTicks++
	logger.Warnf(ctx, "skipping tick: %v", err)
	d.tracker.Update(func(s *status.Snapshot) {
		d.fillControl(s)
		s.SensorError = err.Error()
		s.LastTick = t
	})
	d.maybeHeartbeat(ctx, t)
}

func logTransition(ctx context.Context, dec control.Decision) {
	msg := fmt.Sprintf("%s -> %s", dec.From, dec.To)
	switch dec.Effect {
	case control.EffectCoolerOn:
		msg = "starting cooling"
	case control.EffectCoolerOff:
		msg = "stopping cooling"
	case control.EffectHeaterOn:
		msg = "starting heating"
	case control.EffectHeaterOff:
		msg = "stopping heating"
	}
	logger.InfoKV(ctx, msg,
		"fridge", dec.Fridge,
		"beer", dec.Beer,
		"beer_setpoint", dec.Setpoint,
		"fridge_setpoint", dec.FridgeSetpoint,
	)
}

// fillControl copies the machine and relay state into s.
func (d *daemon) fillControl(s *status.Snapshot) {
	s.State = d.machine.State()
	s.Setpoint = d.machine.Setpoint()
	s.Hysteresis = d.machine.Hysteresis()
	s.RelayOn = d.cooler.IsOn()
	s.RelayElapsed = d.cooler.Elapsed()
	s.Counts = d.counts
}

func (d *daemon) refreshControl() {
	d.tracker.Update(d.fillControl)
}

func (d *daemon) maybeTelemetry(ctx context.Context, t time.Time, dec control.Decision, gravity float64) {
	if d.telemetryEvery <= 0 {
		return
	}
	if !d.lastTelemetry.IsZero() && t.Sub(d.lastTelemetry) < d.telemetryEvery {
		return
	}
	d.lastTelemetry = t
	err := d.publisher.PublishTelemetry(mqtt.Telemetry{
		Timestamp:      t,
		State:          dec.To,
		Fridge:         dec.Fridge,
		Beer:           dec.Beer,
		Gravity:        gravity,
		Setpoint:       dec.Setpoint,
		FridgeSetpoint: dec.FridgeSetpoint,
		RelayOn:        d.cooler.IsOn(),
	})
	if err != nil {
		logger.Warnf(ctx, "telemetry publish error: %v", err)
	}
}

func (d *daemon) maybeHeartbeat(ctx context.Context, t time.Time) {
	if d.heartbeat <= 0 || t.Sub(d.lastHeartbeat) < d.heartbeat {
		return
	}
	d.lastHeartbeat = t
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}
	logger.InfoKV(ctx, "heartbeat",
		"state", d.machine.State(),
		"cooling_starts", d.counts.CoolingStarts,
		"cooling_stops", d.counts.CoolingStops,
		"skipped_ticks", d.counts.SkippedTicks,
	)
	d.publishSystem(ctx, "HEARTBEAT", "", false)
}

// push hands the reading to every integration that is due. Pushes run in
// the background so a slow service never delays the control loop.
func (d *daemon) push(ctx context.Context, beer, fridge, gravity float64) {
	for _, p := range d.pushers {
		if !p.Due() {
			continue
		}
		d.pushes.Add(1)
		go func(p pusher) {
			defer d.pushes.Done()
			err := p.Update(ctx, beer, fridge, gravity)
			if err != nil && !errors.Is(err, brewersfriend.ErrTooSoon) {
				logger.Warnf(ctx, "integration push failed: %v", err)
			}
		}(p)
	}
}

func (d *daemon) handleCommand(ctx context.Context, cmd command.Command) {
	before := d.machine.State()
	err := cmd.Apply(d.machine)
	after := d.machine.State()

	if err != nil {
		logger.WarnKV(ctx, "command failed", "source", cmd.Source, "action", cmd.Action, "error", err)
	} else {
		logger.InfoKV(ctx, "command applied",
			"source", cmd.Source,
			"action", cmd.Action,
			"setpoint", d.machine.Setpoint(),
			"hysteresis", d.machine.Hysteresis(),
			"state", after,
		)
	}
	d.refreshControl()

	if before == after {
		return
	}
	event := "STARTED"
	if after == control.StateStopped {
		event = "STOPPED"
	}
	d.publishSystem(ctx, event, cmd.Source, true)
}

func (d *daemon) shutdown(ctx context.Context, s os.Signal) {
	logger.Infof(ctx, "received %v, shutting down", s)
	if err := d.machine.Stop(); err != nil {
		logger.Errorf(ctx, "switch outputs off: %v", err)
	}
	d.pushes.Wait()
	d.refreshControl()
	d.publishSystem(ctx, "SHUTDOWN", signalName(s), true)
}

func (d *daemon) publishSystem(ctx context.Context, event, reason string, retained bool) {
	d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.Warnf(ctx, "failed to publish %s event: %v", event, err)
		return
	}
	logger.Debugf(ctx, "published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
