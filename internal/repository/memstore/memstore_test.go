package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/shopspring/decimal"
)

func openRide(t *testing.T, s *Store, id string, at time.Time) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		ID:            id,
		ClientID:      "client-1",
		BairroID:      "centro",
		PaymentMethod: models.PaymentMethodCash,
		QuotedTotal:   decimal.NewFromInt(50),
		OpenedAt:      at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if err := s.Rides().Create(context.Background(), ride); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return ride
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err := s.Ledger().Append(ctx, &models.LedgerEntry{
		DriverID: "d1", Type: models.EntryTypeCredit, Amount: decimal.NewFromInt(10),
		Reason: models.ReasonRecharge, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Ledger().Append(ctx, &models.LedgerEntry{
			DriverID: "d1", Type: models.EntryTypeDebit, Amount: decimal.NewFromInt(4),
			Reason: models.ReasonPlatformFee, CreatedAt: now,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want boom", err)
	}

	balance, _ := s.Ledger().Balance(ctx, "d1")
	if !balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want 10 after rollback", balance)
	}
	entries, _ := s.Ledger().List(ctx, "d1", 10, 0)
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestDebitCannotOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Ledger().Append(ctx, &models.LedgerEntry{
		DriverID: "d1", Type: models.EntryTypeDebit, Amount: decimal.NewFromInt(1),
		Reason: models.ReasonPlatformFee,
	})
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("Append() error = %v, want ErrInsufficientBalance", err)
	}
	if entries, _ := s.Ledger().List(ctx, "d1", 10, 0); len(entries) != 0 {
		t.Errorf("failed debit left %d entries", len(entries))
	}
}

func TestMatchIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	openRide(t, s, "r1", now)
	openRide(t, s, "r2", now)

	params := repository.MatchParams{RideID: "r1", DriverID: "d1", PlatformFee: decimal.NewFromInt(5), At: now}
	ok, err := s.Rides().Match(ctx, params)
	if err != nil || !ok {
		t.Fatalf("first Match() = %v, %v", ok, err)
	}

	params.DriverID = "d2"
	ok, err = s.Rides().Match(ctx, params)
	if err != nil || ok {
		t.Fatalf("second Match() = %v, %v, want false, nil", ok, err)
	}

	_, err = s.Rides().Match(ctx, repository.MatchParams{RideID: "r2", DriverID: "d1", At: now})
	if !errors.Is(err, repository.ErrDriverBusy) {
		t.Fatalf("Match() with busy driver error = %v, want ErrDriverBusy", err)
	}

	ride, _ := s.Rides().GetByID(ctx, "r1")
	if !ride.IsAssignedTo("d1") || ride.Version != 2 {
		t.Errorf("ride = driver %v version %d", ride.DriverID, ride.Version)
	}
}

func TestGuardedUpdateRejectsStaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ride := openRide(t, s, "r1", now)

	stale := repository.GuardOf(ride)
	if ok, _ := s.Rides().Cancel(ctx, stale, models.CancelledByClient, now); !ok {
		t.Fatal("expected first cancel to apply")
	}
	if ok, _ := s.Rides().Cancel(ctx, stale, models.CancelledBySystem, now); ok {
		t.Fatal("expected stale guard to be rejected")
	}

	got, _ := s.Rides().GetByID(ctx, "r1")
	if got.CancelledBy == nil || *got.CancelledBy != models.CancelledByClient {
		t.Errorf("cancelled_by = %v, want client", got.CancelledBy)
	}
}

func TestListOpenForDriverHonoursExclusions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		openRide(t, s, id, now)
	}
	err := s.CounterOffers().Create(ctx, &models.CounterOffer{RideID: "r2", DriverID: "d1", Amount: decimal.NewFromInt(40)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		rides, err := s.Rides().ListOpenForDriver(ctx, repository.DispatchQuery{
			BairroID: "centro", DriverID: "d1", Exclude: []string{"r1"},
			OpenedAfter: now.Add(-time.Minute), Limit: 3,
		})
		if err != nil {
			t.Fatalf("ListOpenForDriver() error = %v", err)
		}
		if len(rides) != 3 {
			t.Fatalf("got %d rides, want 3", len(rides))
		}
		for _, r := range rides {
			if r.ID == "r1" || r.ID == "r2" {
				t.Fatalf("ride %s should have been excluded", r.ID)
			}
		}
	}
}
