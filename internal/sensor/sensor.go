// Package sensor provides temperature sources for the fridge air and the beer.
// Sources that are fed by background I/O publish into a Slot, which readers
// snapshot without locking.
package sensor

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sweeney/fermenter/internal/control"
)

var (
	// ErrNoReading is returned before a source has produced its first value.
	ErrNoReading = errors.New("sensor: no reading yet")
	// ErrStale is returned when the latest reading is older than the source timeout.
	ErrStale = errors.New("sensor: reading is stale")
)

// Source supplies the latest known temperature in Celsius.
type Source = control.TemperatureSource

// Reading is an immutable sample. Gravity is zero for sources that do not measure it.
type Reading struct {
	Celsius float64
	Gravity float64
	Time    time.Time
}

// Slot holds the most recent Reading. One goroutine stores, any number load.
type Slot struct {
	p atomic.Pointer[Reading]
}

// Store publishes r as the latest reading.
func (s *Slot) Store(r Reading) {
	s.p.Store(&r)
}

// Load returns the latest reading and whether one has been stored.
func (s *Slot) Load() (Reading, bool) {
	r := s.p.Load()
	if r == nil {
		return Reading{}, false
	}
	return *r, true
}

// Offset applies a fixed calibration offset to another source.
type Offset struct {
	Source Source
	Delta  float64
}

// Read returns the wrapped reading plus Delta.
func (o Offset) Read() (float64, error) {
	v, err := o.Source.Read()
	if err != nil {
		return 0, err
	}
	return v + o.Delta, nil
}

// WithOffset wraps s when delta is non-zero.
func WithOffset(s Source, delta float64) Source {
	if delta == 0 {
		return s
	}
	return Offset{Source: s, Delta: delta}
}
