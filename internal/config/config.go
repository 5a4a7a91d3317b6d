// Package config loads and validates the fermenter YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/fermenter/internal/relay"
)

// Sensor types.
const (
	SensorMAX31865 = "max31865"
	SensorTilt     = "tilt"
	SensorFake     = "fake"
)

// Relay types.
const (
	RelayGPIO = "gpio"
	RelayFake = "fake"
)

// IntegrationBrewersFriend is the Brewer's Friend fermentation push.
const IntegrationBrewersFriend = "brewers_friend"

// Sane beer setpoint range in Celsius.
const (
	MinSetpoint = -10.0
	MaxSetpoint = 40.0
)

const (
	// DefaultConfigFilename is used when no path is given.
	DefaultConfigFilename = "fermenter.yaml"
	// DefaultFilePermissions restricts the file since it may hold API keys.
	DefaultFilePermissions = 0o600
)

// Config is the complete daemon configuration.
type Config struct {
	FridgeTemperature Sensor        `yaml:"fridge_temperature"`
	BeerTemperature   Sensor        `yaml:"beer_temperature"`
	CompressorRelay   Relay         `yaml:"compressor_relay"`
	HeaterRelay       *Relay        `yaml:"heater_relay,omitempty"`
	Control           Control       `yaml:"control"`
	MQTT              MQTT          `yaml:"mqtt"`
	HTTP              HTTP          `yaml:"http"`
	Integrations      []Integration `yaml:"integrations,omitempty"`
	LogLevel          string        `yaml:"log_level"`
}

// Sensor configures a temperature source.
type Sensor struct {
	Type   string  `yaml:"type"`
	Offset float64 `yaml:"offset"`
	// MAX31865 settings.
	SPI         SPI     `yaml:"spi,omitempty"`
	Wires       int     `yaml:"wires,omitempty"`
	RefResistor float64 `yaml:"ref_resistor,omitempty"`
	RTDNominal  float64 `yaml:"rtd_nominal,omitempty"`
	// Tilt settings.
	Colour  string        `yaml:"colour,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Fake settings.
	Value float64 `yaml:"value,omitempty"`
}

// SPI selects the SPI chip select line and clock.
type SPI struct {
	ChipSelect uint8 `yaml:"chip_select"`
	SpeedHz    int   `yaml:"speed_hz"`
}

// Relay configures a binary output.
type Relay struct {
	Type       string `yaml:"type"`
	Chip       string `yaml:"chip,omitempty"`
	Pin        int    `yaml:"pin"`
	ActiveHigh bool   `yaml:"active_high"`
}

// Control holds the control loop parameters.
type Control struct {
	Setpoint   float64       `yaml:"setpoint"`
	Hysteresis float64       `yaml:"hysteresis"`
	MinOffTime time.Duration `yaml:"min_off_time"`
	MinOnTime  time.Duration `yaml:"min_on_time"`
	Interval   time.Duration `yaml:"interval"`
	AutoStart  bool          `yaml:"auto_start"`
}

// MQTT configures the broker connection. An empty broker disables MQTT.
type MQTT struct {
	Broker            string        `yaml:"broker"`
	ClientID          string        `yaml:"client_id"`
	TopicPrefix       string        `yaml:"topic_prefix"`
	TiltTopic         string        `yaml:"tilt_topic,omitempty"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// HTTP configures the dashboard. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Integration configures a remote logging service.
type Integration struct {
	Type      string        `yaml:"type"`
	APIKey    string        `yaml:"x_api_key"`
	SessionID string        `yaml:"brew_session_id"`
	Interval  time.Duration `yaml:"interval,omitempty"`
}

var (
	errConfigIsNotSet      = errors.New("configuration is not set")
	errSetpointOutOfRange  = fmt.Errorf("setpoint must be between %.0f and %.0f °C", MinSetpoint, MaxSetpoint)
	errNegativeHysteresis  = errors.New("hysteresis must not be negative")
	errNonPositiveTimer    = errors.New("compressor timers must be positive")
	errNonPositiveInterval = errors.New("control interval must be positive")
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		FridgeTemperature: Sensor{
			Type:        SensorMAX31865,
			SPI:         SPI{ChipSelect: 0, SpeedHz: 500000},
			Wires:       2,
			RefResistor: 430.0,
			RTDNominal:  100.0,
		},
		BeerTemperature: Sensor{
			Type:    SensorTilt,
			Colour:  "red",
			Timeout: 120 * time.Second,
		},
		CompressorRelay: Relay{
			Type:       RelayGPIO,
			Chip:       "gpiochip0",
			Pin:        relay.DefaultPinCompressor,
			ActiveHigh: true,
		},
		Control: Control{
			Setpoint:   20.0,
			Hysteresis: 0.5,
			MinOffTime: 300 * time.Second,
			MinOnTime:  180 * time.Second,
			Interval:   time.Second,
			AutoStart:  true,
		},
		MQTT: MQTT{
			Broker:            "tcp://192.168.1.200:1883",
			ClientID:          "fermenter",
			TopicPrefix:       "fermenter",
			TiltTopic:         "tilt/beacons",
			Heartbeat:         15 * time.Minute,
			TelemetryInterval: time.Minute,
		},
		HTTP:     HTTP{Addr: ":8080"},
		LogLevel: "info",
	}
}

// Load reads the configuration at path on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}
	if path == "" {
		path = DefaultConfigFilename
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks cfg and fills in defaults for optional durations.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := ValidateSetpoint(cfg.Control.Setpoint); err != nil {
		return err
	}
	if cfg.Control.Hysteresis < 0 {
		return errNegativeHysteresis
	}
	if cfg.Control.MinOffTime <= 0 || cfg.Control.MinOnTime <= 0 {
		return errNonPositiveTimer
	}
	if cfg.Control.Interval <= 0 {
		return errNonPositiveInterval
	}

	if err := validateSensor("fridge_temperature", &cfg.FridgeTemperature); err != nil {
		return err
	}
	if err := validateSensor("beer_temperature", &cfg.BeerTemperature); err != nil {
		return err
	}
	if err := validateRelay("compressor_relay", &cfg.CompressorRelay); err != nil {
		return err
	}
	if cfg.HeaterRelay != nil {
		if err := validateRelay("heater_relay", cfg.HeaterRelay); err != nil {
			return err
		}
	}

	if cfg.MQTT.Broker != "" {
		if _, err := url.ParseRequestURI(cfg.MQTT.Broker); err != nil {
			return fmt.Errorf("invalid mqtt broker: %w", err)
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "fermenter"
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = "fermenter"
		}
	}
	for _, s := range []struct {
		name string
		typ  string
	}{
		{"fridge_temperature", cfg.FridgeTemperature.Type},
		{"beer_temperature", cfg.BeerTemperature.Type},
	} {
		if s.typ == SensorTilt && cfg.MQTT.Broker == "" {
			return fmt.Errorf("%s: tilt readings arrive over mqtt, a broker is required", s.name)
		}
	}

	for i := range cfg.Integrations {
		in := &cfg.Integrations[i]
		if in.Type != IntegrationBrewersFriend {
			return fmt.Errorf("integrations[%d]: unknown integration type %q", i, in.Type)
		}
		if in.APIKey == "" || in.SessionID == "" {
			return fmt.Errorf("integrations[%d]: x_api_key and brew_session_id are required", i)
		}
		if in.Interval <= 0 {
			in.Interval = 15 * time.Minute
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return nil
}

// ValidateSetpoint rejects beer setpoints outside the sane brewing range.
func ValidateSetpoint(celsius float64) error {
	if !(celsius >= MinSetpoint && celsius <= MaxSetpoint) {
		return errSetpointOutOfRange
	}
	return nil
}

func validateSensor(name string, s *Sensor) error {
	switch s.Type {
	case SensorMAX31865:
		if s.Wires == 0 {
			s.Wires = 2
		}
		if s.Wires < 2 || s.Wires > 4 {
			return fmt.Errorf("%s: wires must be 2, 3 or 4", name)
		}
		if s.RefResistor <= 0 {
			s.RefResistor = 430.0
		}
		if s.RTDNominal <= 0 {
			s.RTDNominal = 100.0
		}
		if s.SPI.SpeedHz <= 0 {
			s.SPI.SpeedHz = 500000
		}
	case SensorTilt:
		if s.Colour == "" {
			return fmt.Errorf("%s: tilt colour is required", name)
		}
		if s.Timeout <= 0 {
			s.Timeout = 120 * time.Second
		}
	case SensorFake:
	default:
		return fmt.Errorf("%s: unknown temperature sensor type %q", name, s.Type)
	}
	return nil
}

func validateRelay(name string, r *Relay) error {
	switch r.Type {
	case RelayGPIO:
		if r.Chip == "" {
			r.Chip = "gpiochip0"
		}
		if r.Pin < 0 {
			return fmt.Errorf("%s: pin must not be negative", name)
		}
	case RelayFake:
	default:
		return fmt.Errorf("%s: unknown relay type %q", name, r.Type)
	}
	return nil
}
