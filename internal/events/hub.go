package events

import (
	"context"
	"sync"
)

// Hub is an in-process Publisher and Subscriber used when Redis is not
// configured. Slow subscribers miss events rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan Event]struct{}{}}
}

func (h *Hub) Publish(ctx context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range e.Channels() {
		for sub := range h.subs[ch] {
			select {
			case sub <- e:
			default:
			}
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channels ...string) (<-chan Event, func(), error) {
	sub := make(chan Event, 16)
	h.mu.Lock()
	for _, ch := range channels {
		if h.subs[ch] == nil {
			h.subs[ch] = map[chan Event]struct{}{}
		}
		h.subs[ch][sub] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			for _, ch := range channels {
				delete(h.subs[ch], sub)
				if len(h.subs[ch]) == 0 {
					delete(h.subs, ch)
				}
			}
			h.mu.Unlock()
			close(sub)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub, cancel, nil
}

func (h *Hub) Close() error {
	return nil
}

var (
	_ Publisher  = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
	_ Publisher  = (*RedisBus)(nil)
	_ Subscriber = (*RedisBus)(nil)
	_ Publisher  = (*KafkaPublisher)(nil)
)
