package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-ticket-orders/internal/logger"
	"time"

	"github.com/segmentio/kafka-go"
)

// Envelope wraps every message this service writes.
type Envelope struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

type Producer struct {
	Writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer returns a producer that routes each message by its own topic.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &Producer{Writer: writer, log: log}
}

// Publish JSON-encodes v inside an Envelope whose type is msgType and writes
// it keyed by key, so all messages about one order land on one partition.
func (p *Producer) Publish(ctx context.Context, topic, msgType, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	value, err := json.Marshal(Envelope{Type: msgType, Key: key, OccurredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msgType)},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s to %s: %w", msgType, topic, err)
	}
	p.log.LogKafka("PUBLISH", topic, fmt.Sprintf("%s %s", msgType, key))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
