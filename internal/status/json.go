package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Relay         RelayJSON    `json:"relay"`
	Temperatures  TempsJSON    `json:"temperatures"`
	Gravity       float64      `json:"gravity,omitempty"`
	SensorError   string       `json:"sensor_error,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastTick      string       `json:"last_tick,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        *ConfigJSON  `json:"config,omitempty"`
}

// RelayJSON reports the compressor relay.
type RelayJSON struct {
	On             bool  `json:"on"`
	ElapsedSeconds int64 `json:"elapsed_seconds"`
}

// TempsJSON reports temperatures and targets in Celsius.
type TempsJSON struct {
	Fridge         float64 `json:"fridge"`
	Beer           float64 `json:"beer"`
	Setpoint       float64 `json:"beer_setpoint"`
	FridgeSetpoint float64 `json:"fridge_setpoint"`
	Hysteresis     float64 `json:"hysteresis"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of control counters.
type CountsJSON struct {
	CoolingStarts int `json:"cooling_starts"`
	CoolingStops  int `json:"cooling_stops"`
	HeatingStarts int `json:"heating_starts"`
	HeatingStops  int `json:"heating_stops"`
	SkippedTicks  int `json:"skipped_ticks"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IntervalMs   int64  `json:"interval_ms"`
	MinOffTimeMs int64  `json:"min_off_time_ms"`
	MinOnTimeMs  int64  `json:"min_on_time_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	FridgeSensor string `json:"fridge_sensor"`
	BeerSensor   string `json:"beer_sensor"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		State: state,
		Relay: RelayJSON{
			On:             snap.RelayOn,
			ElapsedSeconds: int64(snap.RelayElapsed.Truncate(time.Second).Seconds()),
		},
		Temperatures: TempsJSON{
			Fridge:         round2(snap.Fridge),
			Beer:           round2(snap.Beer),
			Setpoint:       round2(snap.Setpoint),
			FridgeSetpoint: round2(snap.FridgeSetpoint),
			Hysteresis:     round2(snap.Hysteresis),
		},
		Gravity:       math.Round(snap.Gravity*1000) / 1000,
		SensorError:   snap.SensorError,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			CoolingStarts: snap.Counts.CoolingStarts,
			CoolingStops:  snap.Counts.CoolingStops,
			HeatingStarts: snap.Counts.HeatingStarts,
			HeatingStops:  snap.Counts.HeatingStops,
			SkippedTicks:  snap.Counts.SkippedTicks,
		},
	}
	if !snap.LastTick.IsZero() {
		inner.LastTick = snap.LastTick.UTC().Format(time.RFC3339)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

func buildConfig(snap Snapshot) *ConfigJSON {
	return &ConfigJSON{
		IntervalMs:   snap.Config.IntervalMs,
		MinOffTimeMs: snap.Config.MinOffTimeMs,
		MinOnTimeMs:  snap.Config.MinOnTimeMs,
		HeartbeatMs:  snap.Config.HeartbeatMs,
		Broker:       snap.Config.Broker,
		HTTPAddr:     snap.Config.HTTPAddr,
		FridgeSensor: snap.Config.FridgeSensor,
		BeerSensor:   snap.Config.BeerSensor,
	}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	inner.Config = buildConfig(snap)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatCompact returns single-line JSON status for websocket clients.
func FormatCompact(snap Snapshot) []byte {
	data, _ := json.Marshal(StatusJSON{Status: buildInner(snap)})
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Config is included on STARTUP only.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	if event == "STARTUP" {
		inner.Config = buildConfig(snap)
	}

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
