// Package command defines operator commands for the control loop. Commands
// arrive from the web dashboard and MQTT and are applied on the loop goroutine,
// which is the only owner of the control machine.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sweeney/fermenter/internal/config"
	"github.com/sweeney/fermenter/internal/control"
)

// Action names.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

var errEmpty = errors.New("command: nothing to do")

// Command is a request to change the controller. Fields left nil are unchanged.
type Command struct {
	Action     string   `json:"action,omitempty"`
	Setpoint   *float64 `json:"setpoint,omitempty"`
	Hysteresis *float64 `json:"hysteresis,omitempty"`
	// Source names the origin for logging, e.g. "web" or "mqtt".
	Source string `json:"-"`
}

// Parse decodes and validates a JSON command.
func Parse(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	c.Action = strings.ToLower(strings.TrimSpace(c.Action))
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Validate checks the command without applying it. Setpoints outside the sane
// brewing range are rejected here rather than by the control machine.
func (c Command) Validate() error {
	if c.Action == "" && c.Setpoint == nil && c.Hysteresis == nil {
		return errEmpty
	}
	switch c.Action {
	case "", ActionStart, ActionStop:
	default:
		return fmt.Errorf("command: unknown action %q", c.Action)
	}
	if c.Setpoint != nil {
		if err := config.ValidateSetpoint(*c.Setpoint); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	if c.Hysteresis != nil && !(*c.Hysteresis >= 0) {
		return control.ErrInvalidHysteresis
	}
	return nil
}

// Apply validates c and applies it to m. Setpoint and hysteresis are applied
// before the action, so a start command carrying a setpoint uses it immediately.
func (c Command) Apply(m *control.Machine) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Setpoint != nil {
		if err := m.SetSetpoint(*c.Setpoint); err != nil {
			return err
		}
	}
	if c.Hysteresis != nil {
		if err := m.SetHysteresis(*c.Hysteresis); err != nil {
			return err
		}
	}
	switch c.Action {
	case ActionStart:
		m.Start()
	case ActionStop:
		return m.Stop()
	}
	return nil
}
