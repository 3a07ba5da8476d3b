// Package kafka provides Kafka-based implementations of the transport
// interfaces.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"courier-go/internal/config"
	"courier-go/internal/transport"
)

// Sender implements transport.Sender using Kafka.
type Sender struct {
	writer *kafka.Writer
}

// NewSender creates a new Kafka sender.
func NewSender(cfg *config.KafkaConfig) *Sender {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Use key-based partitioning
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Sender{
		writer: writer,
	}
}

// Send hands one envelope to Kafka.
func (s *Sender) Send(ctx context.Context, env *transport.Envelope) error {
	kafkaMsg := kafka.Message{
		Key:   env.Key,
		Value: env.Body,
	}

	// Convert headers
	if len(env.Headers) > 0 {
		kafkaMsg.Headers = make([]kafka.Header, 0, len(env.Headers))
		for k, v := range env.Headers {
			kafkaMsg.Headers = append(kafkaMsg.Headers, kafka.Header{
				Key:   k,
				Value: []byte(v),
			})
		}
	}

	if err := s.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer.
func (s *Sender) Close() error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}
