// Package kafkabus publishes heater telemetry to a Kafka topic. Every message is
// keyed by the daemon's instance id so that one instance's history stays in
// one partition.
package kafkabus

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/telemetry"
)

// DefaultTopic is the topic status and events are written to.
const DefaultTopic = "heater.control.status"

// Message kinds carried in the "kind" header.
const (
	KindStatus = "status"
	KindEvent  = "event"
	KindSystem = "system"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes telemetry to Kafka.
type Publisher struct {
	w       messageWriter
	key     []byte
	timeout time.Duration
	now     func() time.Time
}

// NewPublisher creates a synchronous writer for topic on brokers.
func NewPublisher(brokers []string, topic, instanceID string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return newPublisher(w, instanceID)
}

func newPublisher(w messageWriter, instanceID string) *Publisher {
	return &Publisher{
		w:       w,
		key:     []byte(instanceID),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// PublishStatus writes a status snapshot.
func (p *Publisher) PublishStatus(payload []byte) error {
	return p.write(KindStatus, payload)
}

// PublishEvent writes an interlock event.
func (p *Publisher) PublishEvent(event logic.Event) error {
	payload, err := telemetry.FormatEventPayload(event)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.write(KindEvent, payload)
}

// PublishSystem writes a system lifecycle event.
func (p *Publisher) PublishSystem(event telemetry.SystemEvent) error {
	payload, err := telemetry.FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.write(KindSystem, payload)
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func (p *Publisher) write(kind string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:     p.key,
		Value:   payload,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", kind, err)
	}
	return nil
}
