package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ms-ticket-orders/internal/logger"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one decoded envelope.
type Handler func(ctx context.Context, env Envelope) error

type Consumer struct {
	reader  *kafka.Reader
	log     *logger.Logger
	retries int
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log, retries: 3, backoff: 500 * time.Millisecond}
}

// Run reads until ctx is cancelled. A message is committed after its handler
// succeeds, or after the last retry fails so one bad message cannot wedge the
// partition.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	topic := c.reader.Config().Topic
	c.log.LogKafka("CONSUME", topic, "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("fetch from %s: %v", topic, err))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("dropping undecodable message at offset %d: %v", msg.Offset, err))
		} else {
			c.dispatch(ctx, topic, env, handle)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("KAFKA", fmt.Sprintf("commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, topic string, env Envelope, handle Handler) {
	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := handle(ctx, env)
		if err == nil {
			return
		}
		if attempt >= c.retries {
			c.log.Error("KAFKA", fmt.Sprintf("giving up on %s %s after %d attempts: %v", env.Type, env.Key, attempt, err))
			return
		}
		c.log.Warn("KAFKA", fmt.Sprintf("%s %s attempt %d failed: %v", env.Type, env.Key, attempt, err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
