package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carreto/dispatch/internal/cache"
	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/logging"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository/memstore"
	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingPublisher keeps every event and fails when err is set.
type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	t           *testing.T
	ctx         context.Context
	store       *memstore.Store
	clock       *fakeClock
	pub         *recordingPublisher
	presence    cache.PresenceStore
	cooldown    cache.CooldownStore
	pricing     PricingService
	bairros     cache.BairroCache
	rides       RideService
	wallet      WalletService
	negotiation NegotiationService
	dispatch    DispatchService
	drivers     DriverService
	supervisor  *TimeoutSupervisor
}

const (
	openTimeout    = 5 * time.Minute
	cancelCooldown = 2 * time.Minute
)

// newFixture seeds bairro "centro" (10% cash fee, 12% electronic), drivers
// d1..d3 there, d9 in "vila", and a R$20 catalog item "sofa".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	logger := logging.Discard()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.Bairros().Upsert(ctx, &models.Bairro{
		ID: "centro", Name: "Centro",
		FeePercentCash: decimal.NewFromInt(10), FeePercentElectronic: decimal.NewFromInt(12),
	}))
	must(store.Bairros().Upsert(ctx, &models.Bairro{ID: "vila", Name: "Vila", FeePercentCash: decimal.NewFromInt(10)}))
	for _, id := range []string{"d1", "d2", "d3"} {
		must(store.Drivers().Create(ctx, &models.Driver{ID: id, BairroID: "centro", Name: "Driver " + id, Vehicle: "Fiorino", Rating: 4.8}))
	}
	must(store.Drivers().Create(ctx, &models.Driver{ID: "d9", BairroID: "vila", Name: "Driver d9", Vehicle: "Kombi"}))
	must(store.Catalog().Upsert(ctx, &models.CatalogItem{ID: "sofa", Name: "Sofa", Price: decimal.NewFromInt(20), Active: true}))

	bairros, err := cache.NewBairroCache(store.Bairros(), time.Minute)
	must(err)

	pricing := NewPricingService(PricingConfig{
		DefaultRatePerKm: decimal.NewFromInt(3),
		HelperFee:        decimal.NewFromInt(30),
		Location:         time.UTC,
		Now:              clock.Now,
	})
	presence := cache.NewMemoryPresence(30*time.Second, clock.Now)
	cooldown := cache.NewMemoryCooldown()

	rides := NewRideService(store, pricing, bairros, cooldown, pub, logger,
		RideConfig{OpenTimeout: openTimeout, DriverCancelCooldown: cancelCooldown}, clock.Now)
	drivers := NewDriverService(store.Drivers(), store.Bairros(), bairros, presence, logger, clock.Now)

	return &fixture{
		t:           t,
		ctx:         ctx,
		store:       store,
		clock:       clock,
		pub:         pub,
		presence:    presence,
		cooldown:    cooldown,
		pricing:     pricing,
		bairros:     bairros,
		rides:       rides,
		wallet:      NewWalletService(store, pub, logger, clock.Now),
		negotiation: NewNegotiationService(store, rides, pricing, bairros, pub, logger, openTimeout, clock.Now),
		dispatch: NewDispatchService(store, presence, cooldown,
			DispatchConfig{MaxRides: 3, OpenTimeout: openTimeout}, logger, clock.Now),
		drivers: drivers,
		supervisor: NewTimeoutSupervisor(store.Rides(), rides, drivers,
			SupervisorConfig{OpenTimeout: openTimeout, SweepInterval: 30 * time.Second}, logger, clock.Now),
	}
}

// createRide opens a 10 km cash ride with one R$20 item: R$50 quoted, R$5 fee.
func (f *fixture) createRide() *models.Ride {
	f.t.Helper()
	ride, err := f.rides.CreateRide(f.ctx, &models.CreateRideRequest{
		ClientID:      "client-1",
		BairroID:      "centro",
		Pickup:        models.Location{Lat: -23.55, Lng: -46.63, Address: "Rua A, 1"},
		Dropoff:       models.Location{Lat: -23.56, Lng: -46.65, Address: "Rua B, 2"},
		DistanceKm:    10,
		DurationMin:   25,
		Items:         []models.CreateRideItemRequest{{CatalogItemID: "sofa", Quantity: 1}},
		PaymentMethod: models.PaymentMethodCash,
	})
	if err != nil {
		f.t.Fatalf("CreateRide() error = %v", err)
	}
	return ride
}

func (f *fixture) fund(driverID string, amount int64) {
	f.t.Helper()
	if _, err := f.wallet.Credit(f.ctx, driverID, decimal.NewFromInt(amount), models.ReasonRecharge, nil); err != nil {
		f.t.Fatalf("Credit() error = %v", err)
	}
}

func (f *fixture) goOnline(driverID string) {
	f.t.Helper()
	if _, err := f.drivers.Heartbeat(f.ctx, driverID, &models.HeartbeatRequest{Lat: -23.55, Lng: -46.63}); err != nil {
		f.t.Fatalf("Heartbeat() error = %v", err)
	}
}

func (f *fixture) ride(id string) *models.Ride {
	f.t.Helper()
	ride, err := f.store.Rides().GetByID(f.ctx, id)
	if err != nil || ride == nil {
		f.t.Fatalf("GetByID(%s) = %v, %v", id, ride, err)
	}
	f.checkDriverRef(ride)
	return ride
}

// checkDriverRef asserts a ride carries a driver exactly when its status holds one.
func (f *fixture) checkDriverRef(ride *models.Ride) {
	f.t.Helper()
	if ride.HoldsDriver() != (ride.DriverID != nil) {
		f.t.Errorf("ride %s in %s has driver_id=%v", ride.ID, ride.Status, ride.DriverID)
	}
}

func (f *fixture) balance(driverID string) decimal.Decimal {
	f.t.Helper()
	rec, err := f.wallet.Reconcile(f.ctx, driverID)
	if err != nil {
		f.t.Fatalf("Reconcile() error = %v", err)
	}
	if !rec.Consistent {
		f.t.Errorf("wallet %s: materialized %s, ledger %s", driverID, rec.Materialized, rec.Derived)
	}
	return rec.Materialized
}

func (f *fixture) entries(driverID string) []*models.LedgerEntry {
	f.t.Helper()
	page, err := f.wallet.ListEntries(f.ctx, driverID, 1, 100)
	if err != nil {
		f.t.Fatalf("ListEntries() error = %v", err)
	}
	return page.Entries
}

func wantReason(t *testing.T, err error, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected guard failure %q, got nil", reason)
	}
	if !apperrors.IsGuardFailed(err) || apperrors.ReasonOf(err) != reason {
		t.Fatalf("error = %v, want guard failure %q", err, reason)
	}
}

func wantCode(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
