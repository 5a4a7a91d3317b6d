// Package mqtt provides MQTT publishing and command subscription with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/sweeney/fermenter/internal/control"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "fermenter"

// Topics are the MQTT topics used by the daemon.
type Topics struct {
	// Events receives control state transitions.
	Events string
	// Telemetry receives periodic temperature readings.
	Telemetry string
	// System receives lifecycle events (STARTUP, SHUTDOWN, HEARTBEAT).
	System string
	// Command is subscribed to for operator commands.
	Command string
}

// NewTopics derives the topic set from a prefix such as "fermenter".
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:    prefix + "/events",
		Telemetry: prefix + "/telemetry",
		System:    prefix + "/system",
		Command:   prefix + "/command",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a control transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error
	// PublishTelemetry sends a temperature sample.
	PublishTelemetry(t Telemetry) error
	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error
	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers messages from subscribed topics.
type Subscriber interface {
	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is a control transition to be published.
type Event struct {
	Timestamp time.Time
	Decision  control.Decision
}

// Telemetry is a periodic temperature sample.
type Telemetry struct {
	Timestamp      time.Time
	State          control.State
	Fridge         float64
	Beer           float64
	Gravity        float64
	Setpoint       float64
	FridgeSetpoint float64
	RelayOn        bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a transition.
type Payload struct {
	Control ControlPayload `json:"control"`
}

// ControlPayload contains the transition details.
type ControlPayload struct {
	Timestamp      string  `json:"timestamp"`
	Event          string  `json:"event"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	Fridge         float64 `json:"fridge"`
	Beer           float64 `json:"beer"`
	Setpoint       float64 `json:"beer_setpoint"`
	FridgeSetpoint float64 `json:"fridge_setpoint"`
}

// EventName maps a transition effect onto the published event name.
func EventName(e control.Effect) string {
	switch e {
	case control.EffectCoolerOn:
		return "COOLING_ON"
	case control.EffectCoolerOff:
		return "COOLING_OFF"
	case control.EffectHeaterOn:
		return "HEATING_ON"
	case control.EffectHeaterOff:
		return "HEATING_OFF"
	default:
		return "NONE"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(event Event) ([]byte, error) {
	d := event.Decision
	payload := Payload{
		Control: ControlPayload{
			Timestamp:      event.Timestamp.UTC().Format(time.RFC3339),
			Event:          EventName(d.Effect),
			From:           string(d.From),
			To:             string(d.To),
			Fridge:         round2(d.Fridge),
			Beer:           round2(d.Beer),
			Setpoint:       round2(d.Setpoint),
			FridgeSetpoint: round2(d.FridgeSetpoint),
		},
	}
	return json.Marshal(payload)
}

// TelemetryPayload is the MQTT message payload for telemetry.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner contains the telemetry sample.
type TelemetryInner struct {
	Timestamp      string  `json:"timestamp"`
	State          string  `json:"state"`
	Fridge         float64 `json:"fridge"`
	Beer           float64 `json:"beer"`
	Gravity        float64 `json:"gravity,omitempty"`
	Setpoint       float64 `json:"beer_setpoint"`
	FridgeSetpoint float64 `json:"fridge_setpoint"`
	Relay          string  `json:"relay"`
}

// FormatTelemetryPayload creates the JSON payload for a telemetry sample.
func FormatTelemetryPayload(t Telemetry) ([]byte, error) {
	relay := "OFF"
	if t.RelayOn {
		relay = "ON"
	}
	return json.Marshal(TelemetryPayload{
		Telemetry: TelemetryInner{
			Timestamp:      t.Timestamp.UTC().Format(time.RFC3339),
			State:          string(t.State),
			Fridge:         round2(t.Fridge),
			Beer:           round2(t.Beer),
			Gravity:        math.Round(t.Gravity*1000) / 1000,
			Setpoint:       round2(t.Setpoint),
			FridgeSetpoint: round2(t.FridgeSetpoint),
			Relay:          relay,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is published by the broker if the daemon disappears.
func willPayload() string {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "LWT"}})
	return string(data)
}
