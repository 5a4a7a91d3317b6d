// Package status provides a lock-free status snapshot for the fermenter daemon.
// The control loop publishes immutable snapshots; HTTP handlers, websocket
// clients and MQTT lifecycle events read them.
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/fermenter/internal/control"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	IntervalMs   int64
	MinOffTimeMs int64
	MinOnTimeMs  int64
	HeartbeatMs  int64
	Broker       string
	HTTPAddr     string
	FridgeSensor string
	BeerSensor   string
}

// Counts tracks control activity since startup.
type Counts struct {
	CoolingStarts int
	CoolingStops  int
	HeatingStarts int
	HeatingStops  int
	SkippedTicks  int
}

// Record counts the effect of a decision.
func (c *Counts) Record(e control.Effect) {
	switch e {
	case control.EffectCoolerOn:
		c.CoolingStarts++
	case control.EffectCoolerOff:
		c.CoolingStops++
	case control.EffectHeaterOn:
		c.HeatingStarts++
	case control.EffectHeaterOff:
		c.HeatingStops++
	}
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and is never mutated once published.
type Snapshot struct {
	State          control.State
	RelayOn        bool
	RelayElapsed   time.Duration
	Fridge         float64
	Beer           float64
	Gravity        float64
	Setpoint       float64
	FridgeSetpoint float64
	Hysteresis     float64
	SensorError    string
	LastTick       time.Time
	Counts         Counts
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker publishes snapshots through an atomic pointer. Writers copy the
// current snapshot, modify the copy and swap it in.
type Tracker struct {
	snap atomic.Pointer[Snapshot]
	now  func() time.Time

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	t := &Tracker{
		now:  time.Now,
		subs: make(map[chan struct{}]struct{}),
	}
	t.snap.Store(&Snapshot{
		State:     control.StateStopped,
		StartTime: startTime,
		Config:    cfg,
	})
	return t
}

// Update applies fn to a copy of the current snapshot and publishes it.
// Concurrent updates are retried so none is lost.
func (t *Tracker) Update(fn func(*Snapshot)) {
	for {
		old := t.snap.Load()
		next := *old
		fn(&next)
		if t.snap.CompareAndSwap(old, &next) {
			break
		}
	}
	t.notify()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.Update(func(s *Snapshot) { s.MQTTConnected = connected })
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.Update(func(s *Snapshot) { s.Network = info })
}

// Snapshot returns the latest snapshot with Now set to the current time.
func (t *Tracker) Snapshot() Snapshot {
	s := *t.snap.Load()
	s.Now = t.now()
	return s
}

// Subscribe returns a channel that receives a signal after every update and
// a function that cancels the subscription. Signals are coalesced for slow readers.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
