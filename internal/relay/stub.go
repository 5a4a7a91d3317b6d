//go:build !linux

package relay

import (
	"errors"
	"time"
)

// GPIO is not available on non-Linux platforms.
type GPIO struct{}

// NewGPIO returns an error on non-Linux platforms.
func NewGPIO(chipName string, pin int, activeHigh bool) (*GPIO, error) {
	return nil, errors.New("relay: gpio not supported on this platform (requires Linux)")
}

// On is not implemented on non-Linux platforms.
func (g *GPIO) On() error {
	return errors.New("relay: gpio not supported")
}

// Off is not implemented on non-Linux platforms.
func (g *GPIO) Off() error {
	return errors.New("relay: gpio not supported")
}

// IsOn always reports off on non-Linux platforms.
func (g *GPIO) IsOn() bool {
	return false
}

// Elapsed is always zero on non-Linux platforms.
func (g *GPIO) Elapsed() time.Duration {
	return 0
}

// Close is not implemented on non-Linux platforms.
func (g *GPIO) Close() error {
	return nil
}
