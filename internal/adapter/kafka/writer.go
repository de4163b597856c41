package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/radar-mosaic-etl/internal/config"
	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes commit notifications to a Kafka topic.
// It implements pipeline.Notifier.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured notification topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Notify serializes and publishes the events in a single WriteMessages call.
// Messages are keyed by product so one group's commits stay ordered.
func (w *Writer) Notify(ctx context.Context, events []domain.CommitEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d commit events: %w", len(msgs), err)
	}
	w.logger.Debug("published commit events", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a CommitEvent into a Kafka message.
func serializeToMessage(event domain.CommitEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize commit event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Product),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "group_key", Value: []byte(event.Key)},
			{Key: "valid_time", Value: []byte(event.ValidTime.Format(time.RFC3339))},
		},
	}, nil
}
