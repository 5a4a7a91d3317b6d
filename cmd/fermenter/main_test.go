package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/fermenter/internal/command"
	"github.com/sweeney/fermenter/internal/config"
	"github.com/sweeney/fermenter/internal/control"
	"github.com/sweeney/fermenter/internal/mqtt"
	"github.com/sweeney/fermenter/internal/relay"
	"github.com/sweeney/fermenter/internal/sensor"
	"github.com/sweeney/fermenter/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		require.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfo(t *testing.T) {
	require.Nil(t, readNetworkInfo(), "nil when NETWORK_STATUS is unset")

	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	require.Equal(t, &status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}, readNetworkInfo())
}

// clock is a manual time source for single-goroutine tests.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakePusher struct {
	mu      sync.Mutex
	due     bool
	err     error
	updates [][3]float64
}

func (p *fakePusher) Due() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.due
}

func (p *fakePusher) Update(_ context.Context, beer, fridge, gravity float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, [3]float64{beer, fridge, gravity})
	return p.err
}

type harness struct {
	d      *daemon
	clock  *clock
	cooler *relay.Fake
	fridge *sensor.Fake
	beer   *sensor.Fake
	pub    *mqtt.FakePublisher
	cmds   chan command.Command
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cooler := relay.NewFake()
	cooler.Now = clk.Now
	cooler.Reset()

	h := &harness{
		clock:  clk,
		cooler: cooler,
		fridge: sensor.NewFake(20.0),
		beer:   sensor.NewFake(20.0),
		pub:    mqtt.NewFakePublisher(),
		cmds:   make(chan command.Command),
	}
	machine := control.NewMachine(cooler)
	tracker := status.NewTracker(clk.Now(), status.Config{Broker: "tcp://broker:1883"})

	h.d = &daemon{
		machine:        machine,
		cooler:         cooler,
		fridge:         h.fridge,
		beer:           h.beer,
		gravity:        noGravity,
		publisher:      h.pub,
		mqttStatus:     h.pub,
		tracker:        tracker,
		commands:       h.cmds,
		heartbeat:      15 * time.Minute,
		telemetryEvery: time.Minute,
		now:            clk.Now,
	}
	return h
}

func (h *harness) set(fridge, beer float64) {
	h.fridge.Values = []float64{fridge}
	h.fridge.Reset()
	h.beer.Values = []float64{beer}
	h.beer.Reset()
}

func (h *harness) started(t *testing.T) *harness {
	t.Helper()
	h.d.startup(context.Background(), true)
	require.Equal(t, control.StateNeutral, h.d.machine.State())
	return h
}

func systemEvents(pub *mqtt.FakePublisher) []string {
	var names []string
	for _, e := range pub.SystemEvents {
		names = append(names, e.Event)
	}
	return names
}

func TestStartupPublishesRetainedStatus(t *testing.T) {
	h := newHarness(t).started(t)

	require.Equal(t, []string{"STARTUP"}, systemEvents(h.pub))
	ev := h.pub.SystemEvents[0]
	require.True(t, ev.Retained)

	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(ev.RawPayload, &sj))
	require.Equal(t, "STARTUP", sj.Status.Event)
	require.Equal(t, "NEUTRAL", sj.Status.State)
	require.NotNil(t, sj.Status.Config)
}

func TestStartupWithoutAutoStartStaysStopped(t *testing.T) {
	h := newHarness(t)
	h.d.startup(context.Background(), false)

	require.Equal(t, control.StateStopped, h.d.machine.State())
	require.Equal(t, control.StateStopped, h.d.tracker.Snapshot().State)
}

func TestTickCoolsAndReturnsToNeutral(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()

	h.clock.Advance(301 * time.Second)
	h.set(20.6, 20.0)
	h.d.tick(ctx)

	require.Equal(t, control.StateCooling, h.d.machine.State())
	require.Equal(t, 1, h.cooler.OnCalls)
	require.Len(t, h.pub.Events, 1)
	require.Contains(t, string(h.pub.Payloads[0]), `"event":"COOLING_ON"`)

	snap := h.d.tracker.Snapshot()
	require.Equal(t, control.StateCooling, snap.State)
	require.True(t, snap.RelayOn)
	require.Equal(t, 20.6, snap.Fridge)
	require.Equal(t, 20.0, snap.FridgeSetpoint)
	require.Equal(t, 1, snap.Counts.CoolingStarts)
	require.Equal(t, h.clock.Now(), snap.LastTick)

	h.clock.Advance(181 * time.Second)
	h.set(19.4, 20.0)
	h.d.tick(ctx)

	require.Equal(t, control.StateNeutral, h.d.machine.State())
	require.Equal(t, 1, h.cooler.OffCalls)
	require.Len(t, h.pub.Events, 2)
	require.Contains(t, string(h.pub.Payloads[1]), `"event":"COOLING_OFF"`)
	require.Equal(t, 1, h.d.tracker.Snapshot().Counts.CoolingStops)
}

func TestTickRespectsMinimumOffTime(t *testing.T) {
	h := newHarness(t).started(t)

	h.clock.Advance(300 * time.Second)
	h.set(25.0, 20.0)
	h.d.tick(context.Background())

	require.Equal(t, control.StateNeutral, h.d.machine.State())
	require.Zero(t, h.cooler.OnCalls)
	require.Empty(t, h.pub.Events)
}

func TestSensorErrorSkipsTick(t *testing.T) {
	h := newHarness(t).started(t)
	h.clock.Advance(time.Hour)
	h.set(25.0, 20.0)
	h.beer.ReadError = sensor.ErrStale

	h.d.tick(context.Background())

	require.Equal(t, control.StateNeutral, h.d.machine.State())
	require.Zero(t, h.cooler.OnCalls)
	require.Empty(t, h.pub.Events)
	require.Empty(t, h.pub.Telemetry)

	snap := h.d.tracker.Snapshot()
	require.Equal(t, 1, snap.Counts.SkippedTicks)
	require.Contains(t, snap.SensorError, "beer sensor")

	// The next good reading clears the error.
	h.beer.ReadError = nil
	h.d.tick(context.Background())
	snap = h.d.tracker.Snapshot()
	require.Empty(t, snap.SensorError)
	require.Equal(t, control.StateCooling, snap.State)
}

func TestNonFiniteReadingSkipsTick(t *testing.T) {
	h := newHarness(t).started(t)
	h.clock.Advance(time.Hour)
	h.set(math.NaN(), 20.0)

	h.d.tick(context.Background())

	require.Equal(t, control.StateNeutral, h.d.machine.State())
	require.Equal(t, 1, h.d.tracker.Snapshot().Counts.SkippedTicks)
}

func TestActuatorFailureKeepsState(t *testing.T) {
	h := newHarness(t).started(t)
	h.clock.Advance(time.Hour)
	h.set(25.0, 20.0)
	h.cooler.OnError = errors.New("gpio busy")

	h.d.tick(context.Background())

	require.Equal(t, control.StateNeutral, h.d.machine.State())
	require.Empty(t, h.pub.Events)
	require.Zero(t, h.d.tracker.Snapshot().Counts.CoolingStarts)
}

func TestTelemetryIsThrottled(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.d.tick(ctx)
		h.clock.Advance(time.Second)
	}
	require.Len(t, h.pub.Telemetry, 1)

	h.clock.Advance(time.Minute)
	h.d.tick(ctx)
	require.Len(t, h.pub.Telemetry, 2)
	require.Equal(t, control.StateNeutral, h.pub.Telemetry[1].State)
	require.Equal(t, 20.0, h.pub.Telemetry[1].Beer)
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()

	h.clock.Advance(14 * time.Minute)
	h.d.tick(ctx)
	require.Equal(t, []string{"STARTUP"}, systemEvents(h.pub))

	h.clock.Advance(time.Minute)
	h.d.tick(ctx)
	require.Equal(t, []string{"STARTUP", "HEARTBEAT"}, systemEvents(h.pub))
	require.False(t, h.pub.SystemEvents[1].Retained)
}

func TestHeartbeatDisabled(t *testing.T) {
	h := newHarness(t).started(t)
	h.d.heartbeat = 0

	h.clock.Advance(24 * time.Hour)
	h.d.tick(context.Background())
	require.Equal(t, []string{"STARTUP"}, systemEvents(h.pub))
}

func TestStopCommand(t *testing.T) {
	h := newHarness(t).started(t)
	h.d.heartbeat = 0
	h.clock.Advance(time.Hour)
	h.set(25.0, 20.0)
	h.d.tick(context.Background())
	require.Equal(t, control.StateCooling, h.d.machine.State())

	h.d.handleCommand(context.Background(), command.Command{Action: command.ActionStop, Source: "mqtt"})

	require.Equal(t, control.StateStopped, h.d.machine.State())
	require.False(t, h.cooler.IsOn())
	require.Equal(t, []string{"STARTUP", "STOPPED"}, systemEvents(h.pub))
	require.Equal(t, "mqtt", h.pub.SystemEvents[1].Reason)

	snap := h.d.tracker.Snapshot()
	require.Equal(t, control.StateStopped, snap.State)
	require.False(t, snap.RelayOn)

	// Ticks are ignored while stopped.
	h.d.tick(context.Background())
	require.Equal(t, control.StateStopped, h.d.machine.State())
	require.Equal(t, 1, h.cooler.OnCalls)
}

func TestSetpointCommand(t *testing.T) {
	h := newHarness(t).started(t)
	sp := 18.0

	h.d.handleCommand(context.Background(), command.Command{Setpoint: &sp, Source: "web"})

	require.Equal(t, 18.0, h.d.machine.Setpoint())
	require.Equal(t, 18.0, h.d.tracker.Snapshot().Setpoint)
	require.Equal(t, []string{"STARTUP"}, systemEvents(h.pub), "no lifecycle event without a state change")
}

func TestPushersRunWhenDue(t *testing.T) {
	h := newHarness(t).started(t)
	due := &fakePusher{due: true}
	idle := &fakePusher{}
	h.d.pushers = []pusher{due, idle}
	h.d.gravity = func() float64 { return 1.045 }
	h.set(19.0, 20.5)

	h.d.tick(context.Background())
	h.d.pushes.Wait()

	require.Equal(t, [][3]float64{{20.5, 19.0, 1.045}}, due.updates)
	require.Empty(t, idle.updates)
}

// runDaemon drives run with the given commands and signal and returns its error.
func runDaemon(t *testing.T, h *harness, ticks int, cmds []command.Command, s os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.d.run(context.Background(), tick, sig)
	}()

	for i := 0; i < ticks; i++ {
		tick <- time.Time{}
	}
	for _, c := range cmds {
		h.cmds <- c
	}
	sig <- s

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func TestRunShutdown(t *testing.T) {
	h := newHarness(t).started(t)
	h.clock.Advance(time.Hour)
	h.set(25.0, 20.0)

	err := runDaemon(t, h, 3, nil, syscall.SIGTERM)
	require.NoError(t, err)

	require.Equal(t, control.StateStopped, h.d.machine.State())
	require.False(t, h.cooler.IsOn())
	require.Equal(t, 1, h.cooler.OnCalls)

	names := systemEvents(h.pub)
	require.Equal(t, "SHUTDOWN", names[len(names)-1])
	last := h.pub.SystemEvents[len(h.pub.SystemEvents)-1]
	require.Equal(t, "SIGTERM", last.Reason)
	require.True(t, last.Retained)
}

func TestRunAppliesCommands(t *testing.T) {
	h := newHarness(t)
	h.d.startup(context.Background(), false)
	sp := 19.0

	err := runDaemon(t, h, 0, []command.Command{
		{Action: command.ActionStart, Setpoint: &sp, Source: "web"},
	}, syscall.SIGINT)
	require.NoError(t, err)

	require.Equal(t, 19.0, h.d.machine.Setpoint())
	require.Equal(t, []string{"STARTUP", "STARTED", "SHUTDOWN"}, systemEvents(h.pub))
	require.Equal(t, "SIGINT", h.pub.SystemEvents[2].Reason)
}

func TestSignalName(t *testing.T) {
	require.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	require.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	require.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Equal(t, "fermenter dev\n", out.String())
}

func TestReadCommandWithFakeSensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fermenter.yaml")
	yaml := `
fridge_temperature:
  type: fake
  value: 4.5
beer_temperature:
  type: fake
  value: 18.25
  offset: -0.25
compressor_relay:
  type: fake
mqtt:
  broker: ""
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"read", "--config", path, "--wait", "0s"})

	require.NoError(t, root.Execute())
	require.Equal(t, "fridge: 4.50°C\nbeer: 18.00°C\n", out.String())
}

func TestOpenSensorsTwoTiltsShareTopic(t *testing.T) {
	cfg := config.Default()
	cfg.FridgeTemperature = config.Sensor{Type: config.SensorTilt, Colour: "green", Timeout: time.Minute}
	cfg.BeerTemperature = config.Sensor{Type: config.SensorTilt, Colour: "red", Timeout: time.Minute}
	pub := mqtt.NewFakePublisher()

	s, err := openSensors(context.Background(), cfg, pub)
	require.NoError(t, err)
	defer s.Close()

	// 50 °F and 68 °F.
	require.True(t, pub.Deliver(cfg.MQTT.TiltTopic, []byte(`[
		{"uuid":"a495bb20c5b14b44b5121370f02d74de","major":50,"minor":1000},
		{"uuid":"a495bb10c5b14b44b5121370f02d74de","major":68,"minor":1042}
	]`)))

	fridge, err := s.fridge.Read()
	require.NoError(t, err)
	require.InDelta(t, 10.0, fridge, 0.01)

	beer, err := s.beer.Read()
	require.NoError(t, err)
	require.InDelta(t, 20.0, beer, 0.01)
	require.InDelta(t, 1.042, s.gravity(), 1e-9)
}

func TestReadCommandRejectsBadSetpointFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fermenter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fridge_temperature: {type: fake}\nbeer_temperature: {type: fake}\ncompressor_relay: {type: fake}\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "--setpoint", "80"})

	require.Error(t, root.Execute())
}

func TestInitCommandWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fermenter.yaml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--config", path, "--heater"})
	require.NoError(t, root.Execute())
	require.Equal(t, "wrote "+path+"\n", out.String())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, relay.DefaultPinCompressor, cfg.CompressorRelay.Pin)
	require.NotNil(t, cfg.HeaterRelay)
	require.Equal(t, relay.DefaultPinHeater, cfg.HeaterRelay.Pin)

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"init", "--config", path})
	require.ErrorContains(t, root.Execute(), "already exists")

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"init", "--config", path, "--force"})
	require.NoError(t, root.Execute())
	cfg, err = config.Load(path)
	require.NoError(t, err)
	require.Nil(t, cfg.HeaterRelay)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"read", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	require.Error(t, root.Execute())
}
