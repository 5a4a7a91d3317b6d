package control

import "time"

// Next returns the state that follows s under the given guards together with
// the actuator effect the transition requires. Stopped only leaves through
// Start and is never left here. At most one transition is taken per call.
func Next(s State, g Guards) (State, Effect) {
	switch s {
	case StateNeutral:
		if g.CoolNeeded && g.CoolOnAllowed {
			return StateCooling, EffectCoolerOn
		}
		if g.HeatNeeded && g.HeatOnAllowed {
			return StateHeating, EffectHeaterOn
		}
	case StateCooling:
		if !g.CoolNeeded && g.CoolOffAllowed {
			return StateNeutral, EffectCoolerOff
		}
	case StateHeating:
		if !g.HeatNeeded && g.HeatOffAllowed {
			return StateNeutral, EffectHeaterOff
		}
	}
	return s, EffectNone
}

// coolingGuards evaluates the compressor predicates for the current state.
// In Neutral cooling is needed above the upper band edge; once Cooling it
// stays needed until the lower band edge is reached.
func coolingGuards(s State, fridge, fridgeSetpoint, hysteresis float64, elapsed time.Duration, t Timers) (needed, onAllowed, offAllowed bool) {
	switch s {
	case StateNeutral:
		needed = fridge > fridgeSetpoint+hysteresis
	case StateCooling:
		needed = fridge > fridgeSetpoint-hysteresis
	}
	onAllowed = elapsed > t.MinOff
	offAllowed = elapsed > t.MinOn
	return needed, onAllowed, offAllowed
}

// heatingGuards evaluates the heater predicates. Heating is not enabled yet,
// so nothing ever asks for it and the heating branch of Next stays dormant.
func heatingGuards(State, float64, float64, float64) (needed, onAllowed, offAllowed bool) {
	return false, false, false
}
