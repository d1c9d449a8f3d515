// Package kafka publishes ingestion events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Keyer extracts a partition key from a payload.
type Keyer interface {
	EventKey() string
}

// Publisher wraps a Kafka writer. The topic is chosen per message.
type Publisher struct {
	writer messageWriter
}

// New creates a Publisher for the given brokers.
func New(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: false,
		},
	}
}

// NewWithWriter builds a publisher using a custom writer.
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Publish writes the JSON-encoded payload to topic. The returned ID is the
// message key, since Kafka assigns no ID before the broker ack.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var key []byte
	if k, ok := payload.(Keyer); ok {
		key = []byte(k.EventKey())
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka write: %w", err)
	}
	return string(key), nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
