package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaPublishDoesNotWaitForBroker(t *testing.T) {
	k := NewKafkaPublisher([]string{"127.0.0.1:1"}, "rides", slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))

	if !k.writer.Async || k.writer.BatchTimeout != kafkaBatchTimeout {
		t.Fatalf("writer async=%v batch=%v", k.writer.Async, k.writer.BatchTimeout)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		// With nothing listening the metadata lookup fails fast; what matters
		// is that no publish waits out a batch.
		_ = k.Publish(context.Background(), Event{Type: TypeRideDriverCancelled, RideID: "r1"})
	}
	if elapsed := time.Since(start); elapsed > 3*kafkaMetadataTimeout {
		t.Errorf("three publishes took %v with no broker", elapsed)
	}
}

func TestKafkaCompletionLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	k := NewKafkaPublisher([]string{"127.0.0.1:1"}, "rides", slog.New(slog.NewJSONHandler(&buf, nil)))

	k.completed([]kafka.Message{{Value: []byte("{}")}}, nil)
	if buf.Len() != 0 {
		t.Fatalf("successful delivery logged %q", buf.String())
	}

	k.completed([]kafka.Message{{Value: []byte("{}")}, {Value: []byte("{}")}}, errors.New("broker down"))
	if !strings.Contains(buf.String(), "kafka delivery failed") || !strings.Contains(buf.String(), `"messages":2`) {
		t.Errorf("log = %q", buf.String())
	}
}
