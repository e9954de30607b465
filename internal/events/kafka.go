package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/carreto/dispatch/internal/observability"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaBatchTimeout = 10 * time.Millisecond
	// bounds the partition metadata lookup WriteMessages still does inline
	kafkaMetadataTimeout = 500 * time.Millisecond
)

// KafkaPublisher appends every event to a topic keyed by ride id, so one
// ride's events stay ordered within a partition. Writes are asynchronous:
// Publish only enqueues, and delivery failures surface in the completion
// callback.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	k := &KafkaPublisher{logger: logger}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: kafkaBatchTimeout,
		Async:        true,
		Completion:   k.completed,
	}
	return k
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, kafkaMetadataTimeout)
	defer cancel()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := e.RideID
	if key == "" {
		key = e.DriverID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
		Time: e.At,
	})
}

func (k *KafkaPublisher) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	observability.PushFailuresTotal.Add(float64(len(messages)))
	k.logger.Warn("kafka delivery failed", "messages", len(messages), "error", err)
}

// Close flushes pending batches.
func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
