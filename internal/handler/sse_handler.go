package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/observability"
	"github.com/carreto/dispatch/internal/service"
	"github.com/go-chi/chi/v5"
)

const sseHeartbeat = 15 * time.Second

// SSEHandler streams a ride's events to the client screen. The stream is a
// hint to re-fetch: clients still poll GET /rides/{id} for the truth.
type SSEHandler struct {
	rideService service.RideService
	subscriber  events.Subscriber
	logger      *slog.Logger
}

func NewSSEHandler(rideService service.RideService, subscriber events.Subscriber, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{
		rideService: rideService,
		subscriber:  subscriber,
		logger:      logger,
	}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/rides/{id}/events", h.StreamRide)
}

// GET /v1/rides/{id}/events
func (h *SSEHandler) StreamRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "id")
	if !rideIDParam(w, rideID) {
		return
	}

	ride, err := h.rideService.GetRide(r.Context(), rideID)
	if err != nil {
		handleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	stream, cancel, err := h.subscriber.Subscribe(ctx, events.RideChannel(rideID))
	if err != nil {
		handleError(w, err)
		return
	}
	defer cancel()

	observability.StreamsOpen.WithLabelValues("sse").Inc()
	defer observability.StreamsOpen.WithLabelValues("sse").Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The current state goes first so a late subscriber never waits for the
	// next transition.
	writeSSE(w, "snapshot", ride)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-stream:
			if !ok {
				return
			}
			writeSSE(w, e.Type, e)
			flusher.Flush()
		case t := <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"time\": %q}\n\n", t.UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode sse event", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
