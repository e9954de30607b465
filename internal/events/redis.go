package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes events on Redis pub/sub channels and lets the SSE and
// WebSocket handlers subscribe to them across instances.
type RedisBus struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRedisBus(redisClient *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{redis: redisClient, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := b.redis.Pipeline()
	for _, ch := range e.Channels() {
		pipe.Publish(ctx, ch, data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Event, func(), error) {
	ps := b.redis.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { ps.Close() }, nil
}

func (b *RedisBus) Close() error {
	return nil
}
