package handler

import (
	"net/http"
	"testing"

	"github.com/carreto/dispatch/internal/models"
)

func TestRegisterDriverOverHTTP(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"valid", map[string]string{"id": "d7", "bairro_id": "centro", "name": "Joana", "phone": "+5511999990000", "vehicle": "Fiorino"}, http.StatusCreated},
		{"duplicate id", map[string]string{"id": "d1", "bairro_id": "centro", "name": "Joana", "phone": "+5511999990000", "vehicle": "Fiorino"}, http.StatusBadRequest},
		{"unknown bairro", map[string]string{"bairro_id": "nowhere", "name": "Joana", "phone": "+5511999990000", "vehicle": "Fiorino"}, http.StatusNotFound},
		{"bad phone", map[string]string{"bairro_id": "centro", "name": "Joana", "phone": "11 9999", "vehicle": "Fiorino"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, s.do(http.MethodPost, "/v1/drivers", tt.body), tt.status)
		})
	}

	rec := s.do(http.MethodGet, "/v1/drivers/d7", nil)
	wantStatus(t, rec, http.StatusOK)
	var driver models.Driver
	decode(t, rec, &driver)
	if driver.BairroID != "centro" || driver.Name != "Joana" {
		t.Errorf("driver = %+v", driver)
	}
}

func TestHeartbeatAndOffline(t *testing.T) {
	s := newTestServer(t)

	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/d1/heartbeat", map[string]float64{"lat": 200, "lng": 0}), http.StatusBadRequest)
	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/ghost/heartbeat", map[string]float64{"lat": -23.5, "lng": -46.6}), http.StatusNotFound)

	rec := s.do(http.MethodPost, "/v1/drivers/d1/heartbeat", map[string]float64{"lat": -23.5, "lng": -46.6})
	wantStatus(t, rec, http.StatusOK)
	var body struct {
		Status   string          `json:"status"`
		Presence models.Presence `json:"presence"`
	}
	decode(t, rec, &body)
	if body.Status != "online" || body.Presence.BairroID != "centro" {
		t.Errorf("heartbeat = %+v", body)
	}

	wantPresence(t, s, "d1", models.DriverStatusOnline)
	wantStatus(t, s.do(http.MethodGet, "/v1/rides?driver=d1", nil), http.StatusOK)
	wantStatus(t, s.do(http.MethodPost, "/v1/drivers/d1/offline", nil), http.StatusOK)
	wantPresence(t, s, "d1", models.DriverStatusOffline)
	wantGuard(t, s.do(http.MethodGet, "/v1/rides?driver=d1", nil), http.StatusConflict, "driver_offline")

	wantStatus(t, s.do(http.MethodGet, "/v1/drivers/ghost/presence", nil), http.StatusNotFound)
}

func wantPresence(t *testing.T, s *testServer, driverID, status string) {
	t.Helper()
	rec := s.do(http.MethodGet, "/v1/drivers/"+driverID+"/presence", nil)
	wantStatus(t, rec, http.StatusOK)
	var body struct {
		DriverID string `json:"driver_id"`
		Status   string `json:"status"`
	}
	decode(t, rec, &body)
	if body.DriverID != driverID || body.Status != status {
		t.Errorf("presence = %+v, want %s %s", body, driverID, status)
	}
}
