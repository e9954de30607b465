package main

import (
	"context"
	"testing"
	"time"

	"github.com/carreto/dispatch/internal/config"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/logging"
)

func TestNewAppPushWiring(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	tests := []struct {
		name    string
		opts    []appOption
		deliver bool
	}{
		{"default", nil, true},
		{"without push", []appOption{withoutPush()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := newApp(ctx, cfg, logging.Discard(), tt.opts...)
			if err != nil {
				t.Fatalf("newApp() error = %v", err)
			}
			defer a.Close()

			sub, stop, err := a.sub.Subscribe(ctx, events.RideChannel("r1"))
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			defer stop()

			if err := a.pub.Publish(ctx, events.Event{Type: events.TypeRideCreated, RideID: "r1"}); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			select {
			case <-sub:
				if !tt.deliver {
					t.Error("event delivered with push disabled")
				}
			case <-time.After(200 * time.Millisecond):
				if tt.deliver {
					t.Error("event not delivered")
				}
			}
		})
	}
}
