package handler

import (
	"net/http"
	"testing"

	"github.com/carreto/dispatch/internal/models"
	"github.com/shopspring/decimal"
)

func TestCounterOfferFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.fund("d1", 20)
	s.fund("d2", 20)
	id := s.createRide()

	rec := s.do(http.MethodPost, "/v1/rides/"+id+"/counters", map[string]interface{}{"driver_id": "d1", "amount": 60})
	wantStatus(t, rec, http.StatusCreated)
	var first models.CounterOffer
	decode(t, rec, &first)

	rec = s.do(http.MethodPost, "/v1/rides/"+id+"/counters", map[string]interface{}{"driver_id": "d2", "amount": 55})
	wantStatus(t, rec, http.StatusCreated)
	var second models.CounterOffer
	decode(t, rec, &second)

	wantGuard(t, s.do(http.MethodPost, "/v1/rides/"+id+"/counters", map[string]interface{}{"driver_id": "d1", "amount": 58}),
		http.StatusConflict, "offer_already_pending")

	wantStatus(t, s.do(http.MethodGet, "/v1/rides/"+id+"/counters", nil), http.StatusBadRequest)
	wantGuard(t, s.do(http.MethodGet, "/v1/rides/"+id+"/counters?client_id=intruder", nil),
		http.StatusConflict, "not_ride_client")

	rec = s.do(http.MethodGet, "/v1/rides/"+id+"/counters?client_id=client-1", nil)
	wantStatus(t, rec, http.StatusOK)
	var list struct {
		Counters []models.CounterOffer `json:"counters"`
	}
	decode(t, rec, &list)
	if len(list.Counters) != 2 {
		t.Fatalf("got %d counters, want 2", len(list.Counters))
	}

	rec = s.do(http.MethodPost, "/v1/rides/"+id+"/counters/"+second.ID+"/accept", map[string]string{"client_id": "client-1"})
	wantStatus(t, rec, http.StatusOK)
	var accepted models.AcceptResult
	decode(t, rec, &accepted)
	if !accepted.Ride.QuotedTotal.Equal(decimal.NewFromInt(55)) || !accepted.Ride.IsAssignedTo("d2") {
		t.Fatalf("accepted ride = %+v", accepted.Ride)
	}

	wantGuard(t, s.do(http.MethodPost, "/v1/rides/"+id+"/counters/"+first.ID+"/accept", map[string]string{"client_id": "client-1"}),
		http.StatusConflict, "ride_unavailable")
	wantGuard(t, s.do(http.MethodPost, "/v1/rides/"+id+"/counters/"+first.ID+"/withdraw", map[string]string{"driver_id": "d1"}),
		http.StatusConflict, "offer_unavailable")
}

func TestCounterOfferValidation(t *testing.T) {
	s := newTestServer(t)
	id := s.createRide()

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing driver", map[string]interface{}{"amount": 10}},
		{"zero amount", map[string]interface{}{"driver_id": "d1", "amount": 0}},
		{"negative amount", map[string]interface{}{"driver_id": "d1", "amount": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, s.do(http.MethodPost, "/v1/rides/"+id+"/counters", tt.body), http.StatusBadRequest)
		})
	}
}

func TestRejectAndWithdrawCounter(t *testing.T) {
	s := newTestServer(t)
	id := s.createRide()

	rec := s.do(http.MethodPost, "/v1/rides/"+id+"/counters", map[string]interface{}{"driver_id": "d1", "amount": 70})
	wantStatus(t, rec, http.StatusCreated)
	var offer models.CounterOffer
	decode(t, rec, &offer)

	rec = s.do(http.MethodPost, "/v1/rides/"+id+"/counters/"+offer.ID+"/reject", map[string]string{"client_id": "client-1"})
	wantStatus(t, rec, http.StatusOK)
	var rejected models.CounterOffer
	decode(t, rec, &rejected)
	if rejected.Status != models.OfferStatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}

	rec = s.do(http.MethodPost, "/v1/rides/"+id+"/counters", map[string]interface{}{"driver_id": "d1", "amount": 65})
	wantStatus(t, rec, http.StatusCreated)
	decode(t, rec, &offer)

	wantGuard(t, s.do(http.MethodPost, "/v1/rides/"+id+"/counters/"+offer.ID+"/withdraw", map[string]string{"driver_id": "d2"}),
		http.StatusConflict, "not_ride_driver")
	rec = s.do(http.MethodPost, "/v1/rides/"+id+"/counters/"+offer.ID+"/withdraw", map[string]string{"driver_id": "d1"})
	wantStatus(t, rec, http.StatusOK)
}
