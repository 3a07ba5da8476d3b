package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"courier-go/internal/config"
	"courier-go/internal/transport"
)

// Receiver implements transport.Receiver using Kafka.
type Receiver struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewReceiver creates a new Kafka receiver.
func NewReceiver(cfg *config.KafkaConfig, logger *slog.Logger) *Receiver {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Receiver{
		reader: reader,
		logger: logger,
	}
}

// Start begins receiving deliveries and calls the handler for each one.
func (r *Receiver) Start(ctx context.Context, handler transport.DeliveryHandler) error {
	r.logger.Info("starting kafka receiver",
		"topic", r.reader.Config().Topic,
		"group", r.reader.Config().GroupID,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("kafka receiver stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("failed to fetch message", "error", err)
			continue
		}

		// Convert Kafka message to a transport delivery
		delivery := &transport.Delivery{
			Key:     msg.Key,
			Body:    msg.Value,
			Headers: make(map[string]string, len(msg.Headers)),
		}

		for _, h := range msg.Headers {
			delivery.Headers[h.Key] = string(h.Value)
		}

		// Hand the delivery to the engine. The engine persists it before
		// invoking any subscriber, so a handler error here only means the
		// delivery could not be recorded; leave it uncommitted and retry.
		if err := handler(ctx, delivery); err != nil {
			r.logger.Error("failed to process delivery",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			continue
		}

		// Commit the message after it is safely in the ledger
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			r.logger.Error("failed to commit message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return fmt.Errorf("failed to commit message: %w", err)
		}
	}
}

// Close closes the Kafka reader.
func (r *Receiver) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
