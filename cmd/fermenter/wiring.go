package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sweeney/fermenter/internal/brewersfriend"
	"github.com/sweeney/fermenter/internal/config"
	"github.com/sweeney/fermenter/internal/logger"
	"github.com/sweeney/fermenter/internal/mqtt"
	"github.com/sweeney/fermenter/internal/relay"
	"github.com/sweeney/fermenter/internal/sensor"
)

// broker is the MQTT client as the daemon uses it.
type broker interface {
	mqtt.Publisher
	mqtt.Subscriber
	mqtt.ConnectionStatus
}

func openBroker(cfg config.MQTT, onChange func(bool)) broker {
	if cfg.Broker == "" {
		return mqtt.Nop{}
	}
	return mqtt.NewRealPublisher(mqtt.Options{
		Broker:             cfg.Broker,
		ClientID:           cfg.ClientID,
		Topics:             mqtt.NewTopics(cfg.TopicPrefix),
		OnConnectionChange: onChange,
	})
}

// sensors holds the opened temperature sources.
type sensors struct {
	fridge  sensor.Source
	beer    sensor.Source
	gravity func() float64
	closers []io.Closer
}

func (s *sensors) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func noGravity() float64 { return 0 }

func openSensors(ctx context.Context, cfg *config.Config, sub mqtt.Subscriber) (*sensors, error) {
	s := &sensors{gravity: noGravity}

	fridge, err := openSensor(ctx, "fridge", cfg.FridgeTemperature, cfg.MQTT.TiltTopic, sub, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	beer, err := openSensor(ctx, "beer", cfg.BeerTemperature, cfg.MQTT.TiltTopic, sub, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.fridge, s.beer = fridge, beer
	return s, nil
}

func openSensor(ctx context.Context, name string, c config.Sensor, tiltTopic string, sub mqtt.Subscriber, s *sensors) (sensor.Source, error) {
	var src sensor.Source

	switch c.Type {
	case config.SensorMAX31865:
		spi, err := sensor.OpenRPIOSPI(c.SPI.ChipSelect, c.SPI.SpeedHz)
		if err != nil {
			return nil, fmt.Errorf("%s sensor: %w", name, err)
		}
		s.closers = append(s.closers, spi)
		m, err := sensor.NewMAX31865(spi, sensor.MAX31865Config{
			Wires:       c.Wires,
			RefResistor: c.RefResistor,
			RTDNominal:  c.RTDNominal,
		})
		if err != nil {
			return nil, fmt.Errorf("%s sensor: %w", name, err)
		}
		src = m

	case config.SensorTilt:
		t, err := sensor.NewTilt(c.Colour, c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s sensor: %w", name, err)
		}
		tctx := logger.WithKV(ctx, "tilt", t.Colour())
		err = sub.Subscribe(tiltTopic, func(payload []byte) {
			if err := t.HandleMessage(payload); err != nil {
				logger.Debugf(tctx, "ignoring beacon message: %v", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("%s sensor: %w", name, err)
		}
		s.gravity = t.Gravity
		src = t

	case config.SensorFake:
		src = sensor.NewFake(c.Value)

	default:
		return nil, fmt.Errorf("%s sensor: unknown type %q", name, c.Type)
	}

	return sensor.WithOffset(src, c.Offset), nil
}

func openRelay(name string, c config.Relay) (relay.Relay, error) {
	switch c.Type {
	case config.RelayGPIO:
		g, err := relay.NewGPIO(c.Chip, c.Pin, c.ActiveHigh)
		if err != nil {
			return nil, fmt.Errorf("%s relay: %w", name, err)
		}
		return g, nil
	case config.RelayFake:
		return relay.NewFake(), nil
	}
	return nil, fmt.Errorf("%s relay: unknown type %q", name, c.Type)
}

func openPushers(cfg []config.Integration) []pusher {
	var out []pusher
	for _, in := range cfg {
		if in.Type == config.IntegrationBrewersFriend {
			out = append(out, brewersfriend.New(in.APIKey, in.SessionID, in.Interval))
		}
	}
	return out
}

// printReadings prints one reading from each sensor, waiting up to wait for
// sources that are fed asynchronously.
func printReadings(ctx context.Context, w io.Writer, cfg *config.Config, wait time.Duration) error {
	b := openBroker(cfg.MQTT, nil)
	defer b.Close()

	s, err := openSensors(ctx, cfg, b)
	if err != nil {
		return err
	}
	defer s.Close()

	deadline := time.Now().Add(wait)
	for _, src := range []struct {
		name string
		src  sensor.Source
	}{{"fridge", s.fridge}, {"beer", s.beer}} {
		v, err := src.src.Read()
		for errors.Is(err, sensor.ErrNoReading) && time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
			v, err = src.src.Read()
		}
		if err != nil {
			fmt.Fprintf(w, "%s: error: %v\n", src.name, err)
			continue
		}
		fmt.Fprintf(w, "%s: %.2f°C\n", src.name, v)
	}
	if g := s.gravity(); g != 0 {
		fmt.Fprintf(w, "gravity: %.3f\n", g)
	}
	return nil
}
