//go:build linux

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIO drives a relay from an actual GPIO line using the Linux GPIO character device.
type GPIO struct {
	mu         sync.Mutex
	chip       *gpiocdev.Chip
	line       *gpiocdev.Line
	pin        int
	activeHigh bool
	on         bool
	changed    time.Time
	now        func() time.Time
}

// NewGPIO requests pin on the named chip as an output and drives it to the
// inactive (off) level.
func NewGPIO(chipName string, pin int, activeHigh bool) (*GPIO, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(rawValue(false, activeHigh)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &GPIO{
		chip:       chip,
		line:       line,
		pin:        pin,
		activeHigh: activeHigh,
		changed:    time.Now(),
		now:        time.Now,
	}, nil
}

// On energises the relay.
func (g *GPIO) On() error {
	return g.set(true)
}

// Off de-energises the relay. Repeated calls are harmless.
func (g *GPIO) Off() error {
	return g.set(false)
}

func (g *GPIO) set(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.line.SetValue(rawValue(on, g.activeHigh)); err != nil {
		return fmt.Errorf("set relay pin %d: %w", g.pin, err)
	}
	g.on = on
	g.changed = g.now()
	return nil
}

// IsOn reads the line back and reports the logical relay state.
// If the read fails the last commanded state is returned.
func (g *GPIO) IsOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, err := g.line.Value()
	if err != nil {
		return g.on
	}
	return v == rawValue(true, g.activeHigh)
}

// Elapsed returns the time since the relay was last switched.
func (g *GPIO) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Sub(g.changed)
}

// Close switches the relay off and releases GPIO resources.
// The line is returned to an input biased to the inactive level, so an
// active-low relay stays de-energised after exit.
func (g *GPIO) Close() error {
	var errs []error

	if g.line != nil {
		if err := g.Off(); err != nil {
			errs = append(errs, err)
		}
		bias := gpiocdev.WithPullDown
		if releasePullUp(g.activeHigh) {
			bias = gpiocdev.WithPullUp
		}
		if err := g.line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := g.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
