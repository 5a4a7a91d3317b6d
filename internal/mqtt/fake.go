package mqtt

import (
	"fmt"
	"sync"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all transitions that were published.
	Events []Event
	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte
	// Telemetry contains all telemetry samples that were published.
	Telemetry []Telemetry
	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent
	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte
	// PublishError, if set, will be returned by Publish and PublishTelemetry.
	PublishError error
	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error
	// Closed tracks if Close was called.
	Closed bool
	// Connected controls the return value of IsConnected.
	Connected bool

	handlers map[string][]func([]byte)
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{handlers: make(map[string][]func([]byte))}
}

// Publish records the transition.
func (f *FakePublisher) Publish(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, event)
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishTelemetry records the telemetry sample.
func (f *FakePublisher) PublishTelemetry(t Telemetry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, t)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Subscribe records the handler so tests can Deliver messages to it.
func (f *FakePublisher) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = append(f.handlers[topic], handler)
	return nil
}

// Deliver passes payload to every handler subscribed to topic and reports
// whether there was at least one.
func (f *FakePublisher) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	handlers := append(([]func([]byte))(nil), f.handlers[topic]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return len(handlers) > 0
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Payloads = nil
	f.Telemetry = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

// Nop discards everything. It is used when no broker is configured.
type Nop struct{}

// Publish discards the transition.
func (Nop) Publish(Event) error { return nil }

// PublishTelemetry discards the sample.
func (Nop) PublishTelemetry(Telemetry) error { return nil }

// PublishSystem discards the event.
func (Nop) PublishSystem(SystemEvent) error { return nil }

// Subscribe fails; there is no broker to deliver messages.
func (Nop) Subscribe(topic string, _ func([]byte)) error {
	return fmt.Errorf("mqtt: no broker configured, cannot subscribe to %s", topic)
}

// IsConnected always reports false.
func (Nop) IsConnected() bool { return false }

// Close does nothing.
func (Nop) Close() error { return nil }
