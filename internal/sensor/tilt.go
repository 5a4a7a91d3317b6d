package sensor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Tilt iBeacon UUIDs by colour.
var TiltUUIDs = map[string]string{
	"red":    "a495bb10c5b14b44b5121370f02d74de",
	"green":  "a495bb20c5b14b44b5121370f02d74de",
	"black":  "a495bb30c5b14b44b5121370f02d74de",
	"purple": "a495bb40c5b14b44b5121370f02d74de",
	"orange": "a495bb50c5b14b44b5121370f02d74de",
	"blue":   "a495bb60c5b14b44b5121370f02d74de",
	"yellow": "a495bb70c5b14b44b5121370f02d74de",
	"pink":   "a495bb80c5b14b44b5121370f02d74de",
}

// DefaultTiltTimeout is how long a Tilt reading stays valid. Tilts beacon roughly every 30 seconds.
const DefaultTiltTimeout = 120 * time.Second

// Beacon is a decoded Tilt iBeacon as forwarded by a BLE bridge.
// Major carries the temperature in Fahrenheit, Minor the specific gravity times 1000.
type Beacon struct {
	UUID  string `json:"uuid"`
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	RSSI  int    `json:"rssi,omitempty"`
}

// Tilt is a hydrometer source fed with beacons from a bridge.
// Beacons are handled on one goroutine while Read may be called from another.
type Tilt struct {
	colour  string
	uuid    string
	timeout time.Duration
	now     func() time.Time
	slot    Slot
}

// NewTilt creates a source for the Tilt of the given colour.
func NewTilt(colour string, timeout time.Duration) (*Tilt, error) {
	colour = strings.ToLower(colour)
	uuid, ok := TiltUUIDs[colour]
	if !ok {
		return nil, fmt.Errorf("sensor: unknown tilt colour %q", colour)
	}
	if timeout <= 0 {
		timeout = DefaultTiltTimeout
	}
	return &Tilt{colour: colour, uuid: uuid, timeout: timeout, now: time.Now}, nil
}

// Colour returns the Tilt colour this source listens for.
func (t *Tilt) Colour() string {
	return t.colour
}

// HandleBeacon stores the beacon if it belongs to this Tilt and reports whether it did.
func (t *Tilt) HandleBeacon(b Beacon) bool {
	uuid := strings.ToLower(strings.ReplaceAll(b.UUID, "-", ""))
	if uuid != t.uuid {
		return false
	}
	t.slot.Store(Reading{
		Celsius: FahrenheitToCelsius(float64(b.Major)),
		Gravity: float64(b.Minor) / 1000.0,
		Time:    t.now(),
	})
	return true
}

// HandleMessage decodes a JSON beacon, or a JSON array of beacons, and stores
// any that belong to this Tilt.
func (t *Tilt) HandleMessage(payload []byte) error {
	var beacons []Beacon
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(payload, &beacons); err != nil {
			return fmt.Errorf("decode tilt beacons: %w", err)
		}
	} else {
		var b Beacon
		if err := json.Unmarshal(payload, &b); err != nil {
			return fmt.Errorf("decode tilt beacon: %w", err)
		}
		beacons = append(beacons, b)
	}
	for _, b := range beacons {
		t.HandleBeacon(b)
	}
	return nil
}

// Latest returns the most recent reading, or an error if there is none or it is stale.
func (t *Tilt) Latest() (Reading, error) {
	r, ok := t.slot.Load()
	if !ok {
		return Reading{}, ErrNoReading
	}
	if age := t.now().Sub(r.Time); age > t.timeout {
		return r, fmt.Errorf("%w: tilt %s last seen %v ago", ErrStale, t.colour, age.Truncate(time.Second))
	}
	return r, nil
}

// Read returns the latest beer temperature in Celsius.
func (t *Tilt) Read() (float64, error) {
	r, err := t.Latest()
	if err != nil {
		return 0, err
	}
	return r.Celsius, nil
}

// Gravity returns the latest specific gravity, or 0 when none is available.
func (t *Tilt) Gravity() float64 {
	r, err := t.Latest()
	if err != nil {
		return 0
	}
	return r.Gravity
}

// FahrenheitToCelsius converts and rounds to two decimals.
func FahrenheitToCelsius(f float64) float64 {
	return math.Round((f-32.0)/1.8*100) / 100
}
