package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/config"
	"github.com/couchcryptid/climate-indicator-service/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes location results to a Kafka topic, one message per location.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes every result in a single WriteMessages
// call. Messages are keyed by location so one location's history stays on
// one partition.
func (w *Writer) LoadBatch(ctx context.Context, results []pipeline.LocationResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d results to %s: %w", len(msgs), w.writer.Topic, err)
	}
	w.logger.Debug("results published", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a LocationResult into a Kafka message.
func serializeToMessage(r pipeline.LocationResult) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize result for %s: %w", r.Location.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(r.Location.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(r.RunID)},
			{Key: "outcome", Value: []byte(r.Outcome())},
			{Key: "processed_at", Value: []byte(r.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
