// Package relay drives binary outputs such as the compressor and heater
// solid state relays. The real implementation uses the Linux GPIO character
// device. The fake implementation allows testing without hardware.
package relay

import "time"

// Default pin definitions (BCM numbering).
const (
	DefaultPinCompressor = 18
	DefaultPinHeater     = 20
)

// Relay is a binary output that remembers when it last changed.
// It satisfies control.Actuator.
type Relay interface {
	On() error
	Off() error
	IsOn() bool
	Elapsed() time.Duration
	// Close releases the output, leaving it de-energised.
	Close() error
}

// rawValue maps a logical state onto the line level for the given polarity.
func rawValue(on, activeHigh bool) int {
	if on == activeHigh {
		return 1
	}
	return 0
}

// releasePullUp reports whether a released line must be pulled up to rest at
// the relay's inactive level.
func releasePullUp(activeHigh bool) bool {
	return rawValue(false, activeHigh) == 1
}
