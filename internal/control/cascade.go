package control

import "math"

// FridgeSetpoint derives the fridge air target from the beer setpoint and the
// current beer temperature. Warm beer pulls the air target down by the same
// amount the beer overshoots, bounded to MaxFridgeOffset below the beer
// setpoint (never below MinFridgeTarget) and never above the beer setpoint.
func FridgeSetpoint(beerSetpoint, beerTemp float64) float64 {
	beerError := beerTemp - beerSetpoint
	sp := beerSetpoint - beerError

	sp = math.Max(sp, math.Max(beerSetpoint-MaxFridgeOffset, MinFridgeTarget))
	// Upper bound wins when the setpoint itself sits below MinFridgeTarget.
	return math.Min(sp, beerSetpoint)
}
