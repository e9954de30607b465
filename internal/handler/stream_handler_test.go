package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestRideEventStream(t *testing.T) {
	s := newTestServer(t)
	s.fund("d1", 20)
	id := s.createRide()
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/rides/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		t.Helper()
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if got := next(); got != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", got)
	}
	wantStatus(t, s.do(http.MethodPost, "/v1/rides/"+id+"/accept", map[string]string{"driver_id": "d1"}), http.StatusOK)
	if got := next(); got != "ride.matched" {
		t.Fatalf("event after accept = %q, want ride.matched", got)
	}
}

func TestRideEventStreamUnknownRide(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/v1/rides/5f0c4b7e-3c55-4a62-9a38-1f0c0b1d2e3f/events", nil)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestDriverFeed(t *testing.T) {
	s := newTestServer(t)
	s.createRide()
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/drivers/d1/feed"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("offline driver should not get a feed")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("offline dial response = %v", resp)
	}

	s.online("d1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg FeedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != "rides" || len(msg.Rides) != 1 {
		t.Fatalf("first frame = %+v, want one ride", msg)
	}

	// Snapshots keep coming on the interval.
	msg = FeedMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("second ReadJSON() error = %v", err)
	}
	if msg.Type != "rides" {
		t.Errorf("second frame type = %q", msg.Type)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", nil)
	wantStatus(t, rec, http.StatusOK)

	rec = s.do(http.MethodGet, "/metrics", nil)
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "carreto_") {
		t.Error("metrics should expose the carreto namespace")
	}
}
