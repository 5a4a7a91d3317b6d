package control

import (
	"errors"
	"fmt"
	"math"
)

var errNoHeater = errors.New("control: no heater configured")

// Machine is the fermentation control state machine.
// It is not safe for concurrent use; a single control loop owns it.
type Machine struct {
	cooler     Actuator
	heater     Actuator
	state      State
	setpoint   float64
	hysteresis float64
	timers     Timers
}

// Option configures a Machine.
type Option func(*Machine)

// WithTimers overrides the compressor anti-short-cycle timers.
func WithTimers(t Timers) Option {
	return func(m *Machine) {
		m.timers = t
	}
}

// WithHeater attaches a heater output. Heating guards are not enabled, so
// the heater is only ever switched off.
func WithHeater(heater Actuator) Option {
	return func(m *Machine) {
		m.heater = heater
	}
}

// NewMachine creates a stopped machine driving the given compressor relay.
func NewMachine(cooler Actuator, opts ...Option) *Machine {
	m := &Machine{
		cooler:     cooler,
		state:      StateStopped,
		setpoint:   DefaultSetpoint,
		hysteresis: DefaultHysteresis,
		timers:     DefaultTimers(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start moves a stopped machine to Neutral. It reports whether it did; on
// any other state it does nothing. No actuator is touched.
func (m *Machine) Start() bool {
	if m.state != StateStopped {
		return false
	}
	m.state = StateNeutral
	return true
}

// Stop forces every output off and moves the machine to Stopped from any
// state. The machine is stopped even when switching an output off fails.
func (m *Machine) Stop() error {
	var errs []error
	if err := m.cooler.Off(); err != nil {
		errs = append(errs, fmt.Errorf("cooler off: %w", err))
	}
	if m.heater != nil {
		if err := m.heater.Off(); err != nil {
			errs = append(errs, fmt.Errorf("heater off: %w", err))
		}
	}
	m.state = StateStopped
	return errors.Join(errs...)
}

// SetSetpoint updates the beer setpoint in Celsius. It is used from the next tick.
func (m *Machine) SetSetpoint(celsius float64) error {
	if !finite(celsius) {
		return ErrInvalidSetpoint
	}
	m.setpoint = celsius
	return nil
}

// SetHysteresis updates the hysteresis band in Celsius. It is used from the next tick.
func (m *Machine) SetHysteresis(celsius float64) error {
	if !finite(celsius) || celsius < 0 {
		return ErrInvalidHysteresis
	}
	m.hysteresis = celsius
	return nil
}

// Tick evaluates one control cycle with fresh fridge and beer readings.
// Non-finite readings are rejected without touching the machine. A stopped
// machine ignores the tick. If the actuator command fails the state is kept,
// so the transition is evaluated again on the next tick.
func (m *Machine) Tick(fridge, beer float64) (Decision, error) {
	if !finite(fridge) || !finite(beer) {
		return Decision{}, ErrInvalidReading
	}

	d := Decision{
		From:           m.state,
		To:             m.state,
		Fridge:         fridge,
		Beer:           beer,
		Setpoint:       m.setpoint,
		FridgeSetpoint: FridgeSetpoint(m.setpoint, beer),
	}
	if m.state == StateStopped {
		return d, nil
	}

	var g Guards
	g.CoolNeeded, g.CoolOnAllowed, g.CoolOffAllowed = coolingGuards(m.state, fridge, d.FridgeSetpoint, m.hysteresis, m.cooler.Elapsed(), m.timers)
	g.HeatNeeded, g.HeatOnAllowed, g.HeatOffAllowed = heatingGuards(m.state, beer, m.setpoint, m.hysteresis)
	d.Guards = g

	next, effect := Next(m.state, g)
	if err := m.apply(effect); err != nil {
		return d, fmt.Errorf("control: %s: %w", effect, err)
	}
	m.state = next
	d.To = next
	d.Effect = effect
	return d, nil
}

func (m *Machine) apply(e Effect) error {
	switch e {
	case EffectCoolerOn:
		return m.cooler.On()
	case EffectCoolerOff:
		return m.cooler.Off()
	case EffectHeaterOn:
		if m.heater == nil {
			return errNoHeater
		}
		return m.heater.On()
	case EffectHeaterOff:
		if m.heater == nil {
			return errNoHeater
		}
		return m.heater.Off()
	}
	return nil
}

// State returns the current control state.
func (m *Machine) State() State {
	return m.state
}

// Setpoint returns the beer setpoint in Celsius.
func (m *Machine) Setpoint() float64 {
	return m.setpoint
}

// Hysteresis returns the hysteresis band in Celsius.
func (m *Machine) Hysteresis() float64 {
	return m.hysteresis
}

// Timers returns the compressor protection timers.
func (m *Machine) Timers() Timers {
	return m.timers
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
