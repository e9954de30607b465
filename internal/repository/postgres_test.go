package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/carreto/dispatch/internal/database"
	"github.com/carreto/dispatch/internal/logging"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/carreto/dispatch/migrations"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// newPostgresStore connects to CARRETO_TEST_DSN and seeds one bairro. Each
// test works on freshly generated ids so runs do not collide.
func newPostgresStore(t *testing.T) (repository.Store, string) {
	t.Helper()
	dsn := os.Getenv("CARRETO_TEST_DSN")
	if dsn == "" {
		t.Skip("CARRETO_TEST_DSN not set")
	}

	ctx := context.Background()
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := database.Migrate(ctx, db, migrations.FS, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := repository.NewPostgresStore(db)
	bairroID := "test-" + uuid.New().String()[:8]
	if err := store.Bairros().Upsert(ctx, &models.Bairro{
		ID:             bairroID,
		Name:           "Test",
		FeePercentCash: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return store, bairroID
}

func createDriver(t *testing.T, store repository.Store, bairroID string) string {
	t.Helper()
	now := time.Now()
	driver := &models.Driver{
		BairroID: bairroID, Name: "Test Driver", Phone: "+5511999990000", Vehicle: "Fiorino",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Drivers().Create(context.Background(), driver); err != nil {
		t.Fatalf("Drivers().Create() error = %v", err)
	}
	return driver.ID
}

func TestPostgresLedgerRejectsOverdraw(t *testing.T) {
	store, bairroID := newPostgresStore(t)
	ctx := context.Background()
	driverID := createDriver(t, store, bairroID)
	now := time.Now()

	if _, err := store.Ledger().Append(ctx, &models.LedgerEntry{
		DriverID: driverID, Type: models.EntryTypeCredit, Amount: decimal.NewFromInt(5),
		Reason: models.ReasonAdjustment, CreatedAt: now,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err := store.Ledger().Append(ctx, &models.LedgerEntry{
		DriverID: driverID, Type: models.EntryTypeDebit, Amount: decimal.NewFromInt(6),
		Reason: models.ReasonPlatformFee, CreatedAt: now,
	})
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("debit error = %v, want ErrInsufficientBalance", err)
	}

	sums, err := store.Ledger().Sums(ctx, driverID)
	if err != nil {
		t.Fatalf("Sums() error = %v", err)
	}
	balance, _ := store.Ledger().Balance(ctx, driverID)
	if !balance.Equal(sums.Balance()) || !balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance = %s, sums = %s, want 5", balance, sums.Balance())
	}
}

func TestPostgresRechargeRefIsUnique(t *testing.T) {
	store, bairroID := newPostgresStore(t)
	ctx := context.Background()
	driverID := createDriver(t, store, bairroID)
	ref := "pi_" + uuid.New().String()

	entry := func() *models.LedgerEntry {
		return &models.LedgerEntry{
			DriverID: driverID, Type: models.EntryTypeCredit, Amount: decimal.NewFromInt(20),
			Reason: models.ReasonRecharge, RefID: &ref, CreatedAt: time.Now(),
		}
	}
	if _, err := store.Ledger().Append(ctx, entry()); err != nil {
		t.Fatalf("first recharge: %v", err)
	}

	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		_, err := tx.Ledger().Append(ctx, entry())
		return err
	})
	if !errors.Is(err, repository.ErrDuplicateRef) {
		t.Fatalf("second recharge error = %v, want ErrDuplicateRef", err)
	}
	if balance, _ := store.Ledger().Balance(ctx, driverID); !balance.Equal(decimal.NewFromInt(20)) {
		t.Errorf("balance = %s, want 20", balance)
	}
}

func TestPostgresConcurrentMatchHasOneWinner(t *testing.T) {
	store, bairroID := newPostgresStore(t)
	ctx := context.Background()
	now := time.Now()

	ride := &models.Ride{
		ClientID: "client-" + uuid.New().String()[:8], BairroID: bairroID,
		PickupLat: -23.55, PickupLng: -46.63, DropoffLat: -23.56, DropoffLng: -46.65,
		DistanceKm: decimal.NewFromInt(10), PaymentMethod: models.PaymentMethodCash,
		QuotedTotal: decimal.NewFromInt(50), SurgeMultiplier: decimal.NewFromInt(1),
		OpenedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Rides().Create(ctx, ride); err != nil {
		t.Fatalf("Rides().Create() error = %v", err)
	}

	const racers = 8
	drivers := make([]string, racers)
	for i := range drivers {
		drivers[i] = createDriver(t, store, bairroID)
	}

	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for _, driverID := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			err := store.WithinTx(ctx, func(tx repository.Tx) error {
				ok, err := tx.Rides().Match(ctx, repository.MatchParams{
					RideID: ride.ID, DriverID: driverID,
					PlatformFee: decimal.NewFromInt(5), At: time.Now(),
				})
				if err != nil {
					return err
				}
				if ok {
					wins <- driverID
				}
				return nil
			})
			if err != nil {
				t.Errorf("Match(%s) error = %v", driverID, err)
			}
		}(driverID)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winners, want 1", len(winners))
	}

	got, err := store.Rides().GetByID(ctx, ride.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.RideStatusMatched || got.DriverID == nil || *got.DriverID != winners[0] {
		t.Errorf("ride = %s/%v, want matched by %s", got.Status, got.DriverID, winners[0])
	}
}
