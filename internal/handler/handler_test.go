package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carreto/dispatch/internal/cache"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/logging"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/payments"
	"github.com/carreto/dispatch/internal/repository/memstore"
	"github.com/carreto/dispatch/internal/service"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const openTimeout = 5 * time.Minute

type stubPayments struct {
	intent   *payments.RechargeIntent
	recharge *payments.Recharge
	err      error
}

func (s *stubPayments) CreateRecharge(ctx context.Context, driverID string, amount decimal.Decimal) (*payments.RechargeIntent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

func (s *stubPayments) ParseRecharge(payload []byte, signature string) (*payments.Recharge, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.recharge, nil
}

type testServer struct {
	t        *testing.T
	router   chi.Router
	hub      *events.Hub
	wallet   service.WalletService
	drivers  service.DriverService
	payments *stubPayments
}

// newTestServer wires every handler over a memory store seeded with bairro
// "centro" (10% cash fee), drivers d1 and d2 there, and a R$20 item "sofa".
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	logger := logging.Discard()
	hub := events.NewHub()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.Bairros().Upsert(ctx, &models.Bairro{ID: "centro", Name: "Centro", FeePercentCash: decimal.NewFromInt(10)}))
	for _, id := range []string{"d1", "d2"} {
		must(store.Drivers().Create(ctx, &models.Driver{ID: id, BairroID: "centro", Name: "Driver " + id, Vehicle: "Fiorino"}))
	}
	must(store.Catalog().Upsert(ctx, &models.CatalogItem{ID: "sofa", Name: "Sofa", Price: decimal.NewFromInt(20), Active: true}))

	bairros, err := cache.NewBairroCache(store.Bairros(), time.Minute)
	must(err)
	pricing := service.NewPricingService(service.PricingConfig{
		DefaultRatePerKm: decimal.NewFromInt(3),
		HelperFee:        decimal.NewFromInt(30),
		Location:         time.UTC,
	})
	presence := cache.NewMemoryPresence(30*time.Second, nil)
	cooldown := cache.NewMemoryCooldown()

	rides := service.NewRideService(store, pricing, bairros, cooldown, hub, logger,
		service.RideConfig{OpenTimeout: openTimeout, DriverCancelCooldown: 2 * time.Minute}, nil)
	wallet := service.NewWalletService(store, hub, logger, nil)
	negotiation := service.NewNegotiationService(store, rides, pricing, bairros, hub, logger, openTimeout, nil)
	dispatch := service.NewDispatchService(store, presence, cooldown,
		service.DispatchConfig{MaxRides: 3, OpenTimeout: openTimeout}, logger, nil)
	drivers := service.NewDriverService(store.Drivers(), store.Bairros(), bairros, presence, logger, nil)
	stub := &stubPayments{}

	r := chi.NewRouter()
	NewHealthHandler(store, nil).RegisterRoutes(r)
	NewWebhookHandler(wallet, stub, logger).RegisterRoutes(r)
	r.Route("/v1", func(r chi.Router) {
		NewRideHandler(rides, dispatch).RegisterRoutes(r)
		NewCounterHandler(negotiation).RegisterRoutes(r)
		NewDriverHandler(drivers, rides).RegisterRoutes(r)
		NewWalletHandler(wallet, drivers, stub).RegisterRoutes(r)
		NewSSEHandler(rides, hub, logger).RegisterRoutes(r)
		NewFeedHandler(dispatch, hub, 50*time.Millisecond, logger).RegisterRoutes(r)
	})

	return &testServer{t: t, router: r, hub: hub, wallet: wallet, drivers: drivers, payments: stub}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) fund(driverID string, amount int64) {
	s.t.Helper()
	if _, err := s.wallet.Credit(context.Background(), driverID, decimal.NewFromInt(amount), models.ReasonRecharge, nil); err != nil {
		s.t.Fatalf("Credit() error = %v", err)
	}
}

func (s *testServer) online(driverID string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/v1/drivers/"+driverID+"/heartbeat", map[string]float64{"lat": -23.55, "lng": -46.63})
	wantStatus(s.t, rec, http.StatusOK)
}

func (s *testServer) createRide() string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/v1/rides", map[string]interface{}{
		"client_id":      "client-1",
		"bairro_id":      "centro",
		"pickup":         map[string]interface{}{"lat": -23.55, "lng": -46.63, "address": "Rua A, 1"},
		"dropoff":        map[string]interface{}{"lat": -23.56, "lng": -46.65, "address": "Rua B, 2"},
		"distance_km":    10,
		"duration_min":   25,
		"items":          []map[string]interface{}{{"catalog_item_id": "sofa", "quantity": 1}},
		"payment_method": "cash",
	})
	wantStatus(s.t, rec, http.StatusCreated)
	var ride models.RideResponse
	decode(s.t, rec, &ride)
	return ride.ID
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func wantGuard(t *testing.T, rec *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	wantStatus(t, rec, status)
	var body utils.ErrorBody
	decode(t, rec, &body)
	if body.OK || body.Error != "guard_failed" || body.Reason != reason {
		t.Fatalf("body = %+v, want guard_failed/%s", body, reason)
	}
}
