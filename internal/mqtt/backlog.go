package mqtt

import (
	"context"

	"github.com/sweeney/fermenter/internal/logger"
)

// pendingMsg is a serialized message waiting for the broker to come back.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog queues messages published while disconnected, oldest first.
// When full it evicts the oldest QoS 0 message (telemetry) before anything
// else, so control transitions and lifecycle events outlive an outage.
// Not safe for concurrent use; the caller must synchronize.
type backlog struct {
	msgs     []pendingMsg
	capacity int
	dropped  map[string]int // per topic, since last drain
}

func newBacklog(capacity int) *backlog {
	return &backlog{
		msgs:     make([]pendingMsg, 0, capacity),
		capacity: capacity,
		dropped:  make(map[string]int),
	}
}

func (b *backlog) push(msg pendingMsg) {
	if len(b.msgs) == b.capacity {
		victim := 0
		for i, m := range b.msgs {
			if m.qos == 0 {
				victim = i
				break
			}
		}
		topic := b.msgs[victim].topic
		if len(b.dropped) == 0 {
			logger.WarnKV(context.Background(), "mqtt: backlog full, dropping messages",
				"capacity", b.capacity, "topic", topic)
		}
		b.dropped[topic]++
		b.msgs = append(b.msgs[:victim], b.msgs[victim+1:]...)
	}
	b.msgs = append(b.msgs, msg)
}

// drain returns the queued messages in publish order and the number dropped
// per topic, then empties the backlog.
func (b *backlog) drain() ([]pendingMsg, map[string]int) {
	if len(b.msgs) == 0 && len(b.dropped) == 0 {
		return nil, nil
	}

	var msgs []pendingMsg
	if len(b.msgs) > 0 {
		msgs = make([]pendingMsg, len(b.msgs))
		copy(msgs, b.msgs)
	}
	var dropped map[string]int
	if len(b.dropped) > 0 {
		dropped = b.dropped
		b.dropped = make(map[string]int)
	}

	b.msgs = b.msgs[:0]
	return msgs, dropped
}

func (b *backlog) len() int {
	return len(b.msgs)
}
