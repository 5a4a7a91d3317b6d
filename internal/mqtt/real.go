package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/fermenter/internal/logger"
)

const (
	publishTimeout  = 5 * time.Second
	backlogCapacity = 256
)

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics
	// OnConnectionChange is called from the paho goroutine whenever the
	// connection comes up or drops.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	notify func(bool)

	mu       sync.Mutex
	backlog  *backlog
	handlers map[string][]func([]byte)
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting in the background; it does not wait for the broker.
func NewRealPublisher(opts Options) *RealPublisher {
	p := &RealPublisher{
		topics:   opts.Topics,
		notify:   opts.OnConnectionChange,
		backlog:  newBacklog(backlogCapacity),
		handlers: make(map[string][]func([]byte)),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.Topics.System, willPayload(), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	ctx := context.Background()
	logger.Infof(ctx, "mqtt: connected")

	p.mu.Lock()
	topics := make([]string, 0, len(p.handlers))
	for topic := range p.handlers {
		topics = append(topics, topic)
	}
	pending, dropped := p.backlog.drain()
	p.mu.Unlock()

	for _, topic := range topics {
		p.subscribe(c, topic)
	}

	if len(pending) > 0 {
		logger.Infof(ctx, "mqtt: replaying %d queued messages", len(pending))
	}
	for topic, n := range dropped {
		logger.WarnKV(ctx, "mqtt: messages lost while disconnected", "topic", topic, "count", n)
	}
	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			logger.Warnf(ctx, "mqtt: replay to %s failed", msg.topic)
		}
	}

	if p.notify != nil {
		p.notify(true)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	logger.Warnf(context.Background(), "mqtt: connection lost: %v", err)
	if p.notify != nil {
		p.notify(false)
	}
}

// subscribe makes the single broker subscription for topic. Every handler
// registered for the topic receives each message.
func (p *RealPublisher) subscribe(c paho.Client, topic string) {
	token := c.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		p.dispatch(topic, m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		logger.Warnf(context.Background(), "mqtt: subscribe %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		logger.Warnf(context.Background(), "mqtt: subscribe %s: %v", topic, err)
	}
}

func (p *RealPublisher) dispatch(topic string, payload []byte) {
	p.mu.Lock()
	handlers := append(([]func([]byte))(nil), p.handlers[topic]...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// Subscribe adds handler for topic. Handlers for the same topic share one
// broker subscription. If connected it subscribes now; otherwise on the
// next connect.
func (p *RealPublisher) Subscribe(topic string, handler func(payload []byte)) error {
	p.mu.Lock()
	first := len(p.handlers[topic]) == 0
	p.handlers[topic] = append(p.handlers[topic], handler)
	p.mu.Unlock()

	if first && p.client.IsConnectionOpen() {
		p.subscribe(p.client, topic)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.backlog.push(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends a control transition to the MQTT broker.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: transitions are rare and worth delivering.
	return p.publish(p.topics.Events, 1, false, payload)
}

// PublishTelemetry sends a telemetry sample to the MQTT broker.
func (p *RealPublisher) PublishTelemetry(t Telemetry) error {
	payload, err := FormatTelemetryPayload(t)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.publish(p.topics.Telemetry, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
