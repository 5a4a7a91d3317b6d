// Package control contains the fermentation control core: a two-point
// state machine driving a compressor relay and the cascade calculation that
// derives a fridge air target from the beer setpoint.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Hardware is only reached through the Actuator interface.
package control

import (
	"errors"
	"time"
)

// State represents the control state of the machine.
type State string

const (
	StateStopped State = "STOPPED"
	StateNeutral State = "NEUTRAL"
	StateCooling State = "COOLING"
	StateHeating State = "HEATING"
)

// Effect is the actuator command attached to a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectCoolerOn
	EffectCoolerOff
	EffectHeaterOn
	EffectHeaterOff
)

func (e Effect) String() string {
	switch e {
	case EffectCoolerOn:
		return "cooler_on"
	case EffectCoolerOff:
		return "cooler_off"
	case EffectHeaterOn:
		return "heater_on"
	case EffectHeaterOff:
		return "heater_off"
	default:
		return "none"
	}
}

// Actuator is a binary output such as a compressor or heater relay.
type Actuator interface {
	// On energises the output.
	On() error
	// Off de-energises the output. Calling Off on an output that is
	// already off is allowed and restarts the elapsed timer.
	Off() error
	// IsOn reports the current output state.
	IsOn() bool
	// Elapsed returns the time spent in the current state, measured from
	// the last On or Off call.
	Elapsed() time.Duration
}

// TemperatureSource supplies the latest known temperature in Celsius.
type TemperatureSource interface {
	Read() (float64, error)
}

// Defaults used by New.
const (
	DefaultSetpoint   = 20.0
	DefaultHysteresis = 0.5
	DefaultMinOffTime = 300 * time.Second
	DefaultMinOnTime  = 180 * time.Second
)

// Cascade clamp limits.
const (
	MaxFridgeOffset = 5.0
	MinFridgeTarget = 0.5
)

var (
	// ErrInvalidSetpoint is returned for a non-finite setpoint.
	ErrInvalidSetpoint = errors.New("control: setpoint must be a finite number")
	// ErrInvalidHysteresis is returned for a negative or non-finite hysteresis.
	ErrInvalidHysteresis = errors.New("control: hysteresis must be a finite number >= 0")
	// ErrInvalidReading is returned by Tick for non-finite temperatures.
	ErrInvalidReading = errors.New("control: temperature reading must be a finite number")
)

// Timers holds the anti-short-cycle dwell times for the compressor.
type Timers struct {
	// MinOff is how long the compressor must have been off before it may start.
	MinOff time.Duration
	// MinOn is how long the compressor must have run before it may stop.
	MinOn time.Duration
}

// DefaultTimers returns the compressor protection timers used when none are configured.
func DefaultTimers() Timers {
	return Timers{MinOff: DefaultMinOffTime, MinOn: DefaultMinOnTime}
}

// Guards are the evaluated transition predicates for a single tick.
type Guards struct {
	CoolNeeded     bool
	CoolOnAllowed  bool
	CoolOffAllowed bool
	HeatNeeded     bool
	HeatOnAllowed  bool
	HeatOffAllowed bool
}

// Decision describes what a tick evaluated and whether it changed state.
type Decision struct {
	From           State
	To             State
	Effect         Effect
	Fridge         float64
	Beer           float64
	Setpoint       float64
	FridgeSetpoint float64
	Guards         Guards
}

// Transitioned reports whether the tick moved the machine to another state.
func (d Decision) Transitioned() bool {
	return d.From != d.To
}
