package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/telemetry"
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed, oldest first, when the
// client reconnects.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // connected at least once
}

// NewRealPublisher creates a publisher for the given broker. The broker does
// not need to be reachable yet: the client keeps retrying in the background
// and everything published meanwhile is buffered.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}
	p := &RealPublisher{buf: newRingBuffer(bufferCapacity)}

	will, err := telemetry.FormatSystemPayload(telemetry.SystemEvent{
		Timestamp: time.Now(),
		Event:     telemetry.EventOffline,
		Reason:    "LWT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishStatus sends a status snapshot. QoS 0, retained so that new
// subscribers see the latest state.
func (p *RealPublisher) PublishStatus(payload []byte) error {
	return p.publish(bufferedMsg{topic: TopicStatus, payload: payload, qos: 0, retained: true})
}

// PublishEvent sends an interlock event. QoS 1, not retained.
func (p *RealPublisher) PublishEvent(event logic.Event) error {
	payload, err := telemetry.FormatEventPayload(event)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicEvents, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event telemetry.SystemEvent) error {
	payload, err := telemetry.FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - we want lifecycle events delivered
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if n := p.buf.len(); n > 0 {
		log.Printf("mqtt: discarding %d buffered messages on close", n)
	}
	p.mu.Unlock()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	if err := p.send(msg); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// onConnect runs on every (re)connection.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	if n := p.replay(p.send); n > 0 {
		log.Printf("mqtt: replayed %d buffered messages", n)
	}
	if !reconnect {
		log.Printf("mqtt: connected")
		return
	}

	log.Printf("mqtt: reconnected")
	payload, _ := telemetry.FormatSystemPayload(telemetry.SystemEvent{
		Timestamp: time.Now(),
		Event:     telemetry.EventReconnected,
	})
	if err := p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
		log.Printf("mqtt: publish reconnected event: %v", err)
	}
}

// replay drains the buffer through send, oldest first. It stops at the first
// failure and puts the unsent remainder back. It returns the number sent.
func (p *RealPublisher) replay(send func(bufferedMsg) error) int {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()

	for i, msg := range msgs {
		if err := send(msg); err != nil {
			log.Printf("mqtt: replay stopped after %d messages: %v", i, err)
			p.mu.Lock()
			p.buf.requeue(msgs[i:])
			p.mu.Unlock()
			return i
		}
	}
	return len(msgs)
}
