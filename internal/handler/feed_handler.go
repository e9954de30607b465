package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/observability"
	"github.com/carreto/dispatch/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	feedWriteWait = 10 * time.Second
	feedPongWait  = 60 * time.Second
	feedPingEvery = feedPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FeedMessage is one frame on the driver feed.
type FeedMessage struct {
	Type  string               `json:"type"`
	Rides []models.RideSummary `json:"rides,omitempty"`
	Event *events.Event        `json:"event,omitempty"`
	Error string               `json:"error,omitempty"`
	At    time.Time            `json:"at"`
}

// FeedHandler pushes the dispatch list to a driver's app over a WebSocket,
// refreshed on an interval and interleaved with the driver's own events.
type FeedHandler struct {
	dispatchService service.DispatchService
	subscriber      events.Subscriber
	interval        time.Duration
	logger          *slog.Logger
}

func NewFeedHandler(dispatchService service.DispatchService, subscriber events.Subscriber, interval time.Duration, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		dispatchService: dispatchService,
		subscriber:      subscriber,
		interval:        interval,
		logger:          logger,
	}
}

func (h *FeedHandler) RegisterRoutes(r chi.Router) {
	r.Get("/drivers/{id}/feed", h.Feed)
}

type feedSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *feedSession) send(msg FeedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *feedSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait))
}

// GET /v1/drivers/{id}/feed?exclude=
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "id")
	exclude := splitList(r.URL.Query().Get("exclude"))

	// Refuse before upgrading so unknown or offline drivers get a JSON error.
	if _, err := h.dispatchService.ListRidesForDriver(r.Context(), driverID, exclude); err != nil {
		handleError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	defer conn.Close()

	observability.StreamsOpen.WithLabelValues("feed").Inc()
	defer observability.StreamsOpen.WithLabelValues("feed").Dec()

	ctx := r.Context()
	stream, cancel, err := h.subscriber.Subscribe(ctx, events.DriverChannel(driverID))
	if err != nil {
		h.logger.Warn("feed subscribe failed", "driver_id", driverID, "error", err)
		return
	}
	defer cancel()

	session := &feedSession{conn: conn}
	done := make(chan struct{})
	go h.readLoop(conn, done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	pinger := time.NewTicker(feedPingEvery)
	defer pinger.Stop()

	if err := h.sendSnapshot(r, session, driverID, exclude); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case e, ok := <-stream:
			if !ok {
				return
			}
			if err := session.send(FeedMessage{Type: "event", Event: &e, At: time.Now().UTC()}); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.sendSnapshot(r, session, driverID, exclude); err != nil {
				return
			}
		case <-pinger.C:
			if err := session.ping(); err != nil {
				return
			}
		}
	}
}

// sendSnapshot only fails on a broken connection. Dispatch errors, such as
// the driver going offline, are reported in-band and the feed stays open.
func (h *FeedHandler) sendSnapshot(r *http.Request, session *feedSession, driverID string, exclude []string) error {
	msg := FeedMessage{Type: "rides", At: time.Now().UTC()}
	rides, err := h.dispatchService.ListRidesForDriver(r.Context(), driverID, exclude)
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
	} else {
		msg.Rides = rides
	}
	return session.send(msg)
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *FeedHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
