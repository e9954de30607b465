package main

import (
	"context"
	"fmt"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/jaswdr/faker"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	DriversPerBairro int
	OpenRides        int
	StartingBalance  int64
}

func defaultSeedOptions() seedOptions {
	return seedOptions{DriversPerBairro: 5, OpenRides: 10, StartingBalance: 50}
}

type seedBairro struct {
	id, name     string
	cash, card   int64
	ratePerKm    string
	lat, lng     float64
	eveningSurge string
}

var seedBairros = []seedBairro{
	{id: "centro", name: "Centro", cash: 10, card: 12, lat: -23.5505, lng: -46.6333, eveningSurge: "1.5"},
	{id: "pinheiros", name: "Pinheiros", cash: 12, card: 14, ratePerKm: "3.50", lat: -23.5614, lng: -46.7016, eveningSurge: "1.3"},
	{id: "mooca", name: "Mooca", cash: 8, card: 10, lat: -23.5587, lng: -46.5993},
}

var seedCatalog = []struct {
	id, name string
	price    int64
}{
	{"sofa", "Sofá", 20},
	{"geladeira", "Geladeira", 25},
	{"fogao", "Fogão", 15},
	{"cama", "Cama de casal", 20},
	{"caixa", "Caixa pequena", 3},
	{"maquina-lavar", "Máquina de lavar", 25},
}

func newSeedCmd(rt *runtime) *cobra.Command {
	opts := defaultSeedOptions()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo bairros, catalog, drivers and open rides",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rt.cfg, rt.logger, withoutPush())
			if err != nil {
				return err
			}
			defer a.Close()
			return seed(ctx, a, opts)
		},
	}
	cmd.Flags().IntVar(&opts.DriversPerBairro, "drivers", opts.DriversPerBairro, "drivers per bairro")
	cmd.Flags().IntVar(&opts.OpenRides, "rides", opts.OpenRides, "open rides to create")
	cmd.Flags().Int64Var(&opts.StartingBalance, "balance", opts.StartingBalance, "starting wallet balance per driver")
	return cmd
}

func seed(ctx context.Context, a *app, opts seedOptions) error {
	fake := faker.New()
	store := a.store

	for _, b := range seedBairros {
		bairro := &models.Bairro{
			ID:                   b.id,
			Name:                 b.name,
			FeePercentCash:       decimal.NewFromInt(b.cash),
			FeePercentElectronic: decimal.NewFromInt(b.card),
		}
		if b.ratePerKm != "" {
			bairro.RatePerKm = decimal.NewNullDecimal(decimal.RequireFromString(b.ratePerKm))
		}
		if err := store.Bairros().Upsert(ctx, bairro); err != nil {
			return fmt.Errorf("seed bairro %s: %w", b.id, err)
		}
		if b.eveningSurge != "" {
			id := b.id
			window := &models.SurgeWindow{
				BairroID:    &id,
				StartMinute: 17 * 60,
				EndMinute:   20 * 60,
				Multiplier:  decimal.RequireFromString(b.eveningSurge),
			}
			if err := store.Bairros().AddSurgeWindow(ctx, window); err != nil {
				return fmt.Errorf("seed surge window %s: %w", b.id, err)
			}
		}
		a.bairros.Invalidate(b.id)
	}

	for _, item := range seedCatalog {
		if err := store.Catalog().Upsert(ctx, &models.CatalogItem{
			ID: item.id, Name: item.name, Price: decimal.NewFromInt(item.price), Active: true,
		}); err != nil {
			return fmt.Errorf("seed catalog %s: %w", item.id, err)
		}
	}

	now := time.Now()
	drivers := 0
	for _, b := range seedBairros {
		for i := 0; i < opts.DriversPerBairro; i++ {
			driver := &models.Driver{
				BairroID:  b.id,
				Name:      fake.Person().Name(),
				Phone:     fake.Phone().Number(),
				Vehicle:   []string{"Fiorino", "Kombi", "HR", "Saveiro"}[fake.IntBetween(0, 3)],
				Rating:    float64(fake.IntBetween(40, 50)) / 10,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.Drivers().Create(ctx, driver); err != nil {
				return fmt.Errorf("seed driver: %w", err)
			}
			if opts.StartingBalance > 0 {
				if _, err := a.wallet.Adjust(ctx, driver.ID, decimal.NewFromInt(opts.StartingBalance), "seed balance"); err != nil {
					return fmt.Errorf("fund driver %s: %w", driver.ID, err)
				}
			}
			drivers++
		}
	}

	for i := 0; i < opts.OpenRides; i++ {
		b := seedBairros[i%len(seedBairros)]
		item := seedCatalog[fake.IntBetween(0, len(seedCatalog)-1)]
		method := models.PaymentMethodCash
		if i%3 == 0 {
			method = models.PaymentMethodElectronic
		}
		_, err := a.rides.CreateRide(ctx, &models.CreateRideRequest{
			ClientID: fmt.Sprintf("client-%03d", fake.IntBetween(1, 200)),
			BairroID: b.id,
			Pickup: models.Location{
				Lat: b.lat + jitter(fake), Lng: b.lng + jitter(fake),
				Address: fake.Address().StreetAddress(),
			},
			Dropoff: models.Location{
				Lat: b.lat + jitter(fake), Lng: b.lng + jitter(fake),
				Address: fake.Address().StreetAddress(),
			},
			DistanceKm:      float64(fake.IntBetween(20, 250)) / 10,
			DurationMin:     fake.IntBetween(10, 60),
			Items:           []models.CreateRideItemRequest{{CatalogItemID: item.id, Quantity: fake.IntBetween(1, 3)}},
			HelperRequested: i%4 == 0,
			PaymentMethod:   method,
		})
		if err != nil {
			return fmt.Errorf("seed ride: %w", err)
		}
	}

	a.logger.Info("seed complete",
		"bairros", len(seedBairros),
		"catalog_items", len(seedCatalog),
		"drivers", drivers,
		"open_rides", opts.OpenRides,
	)
	return nil
}

// jitter spreads points across roughly two kilometres.
func jitter(fake faker.Faker) float64 {
	return float64(fake.IntBetween(-100, 100)) / 5000
}
