package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carreto/dispatch/internal/cache"
	"github.com/carreto/dispatch/internal/config"
	"github.com/carreto/dispatch/internal/database"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/carreto/dispatch/internal/repository/memstore"
	"github.com/carreto/dispatch/internal/service"
	"github.com/shopspring/decimal"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    repository.Store
	db       *database.PostgresDB
	redis    *database.RedisDB
	presence cache.PresenceStore
	cooldown cache.CooldownStore
	bairros  cache.BairroCache
	pub      events.Publisher
	sub      events.Subscriber
	quiet    bool

	pricing     service.PricingService
	rides       service.RideService
	wallet      service.WalletService
	negotiation service.NegotiationService
	dispatch    service.DispatchService
	drivers     service.DriverService
	supervisor  *service.TimeoutSupervisor

	closers []func() error
}

type appOption func(*app)

// withoutPush drops every outbound event. Used for bulk loads nobody is
// watching.
func withoutPush() appOption {
	return func(a *app) { a.quiet = true }
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		hub := events.NewHub()
		a.store = memstore.New()
		a.presence = cache.NewMemoryPresence(cfg.PresenceTTL, nil)
		a.cooldown = cache.NewMemoryCooldown()
		a.pub, a.sub = hub, hub
		logger.Warn("running on the in-memory store; state is lost on exit")
	default:
		if err := a.connect(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	switch {
	case a.quiet:
		a.pub = events.NewNop()
	case len(cfg.KafkaBrokers) > 0:
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		a.pub = events.NewMulti(a.pub, kafka)
		logger.Info("publishing ride events to kafka", "topic", cfg.KafkaTopic)
	}

	bairros, err := cache.NewBairroCache(a.store.Bairros(), cfg.BairroCacheTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("bairro cache: %w", err)
	}
	a.bairros = bairros

	a.wire()
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	db, err := database.NewPostgres(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConnections, a.cfg.DBMaxIdleConnections)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.store = repository.NewPostgresStore(db.DB)
	a.logger.Info("connected to postgres")

	rdb, err := database.NewRedis(ctx, a.cfg.RedisURL, a.cfg.RedisPassword)
	if err != nil {
		return err
	}
	a.redis = rdb
	a.closers = append(a.closers, rdb.Close)
	a.logger.Info("connected to redis")

	bus := events.NewRedisBus(rdb.Client, a.logger)
	a.presence = cache.NewRedisPresence(rdb.Client, a.cfg.PresenceTTL)
	a.cooldown = cache.NewRedisCooldown(rdb.Client)
	a.pub, a.sub = bus, bus
	return nil
}

func (a *app) wire() {
	cfg := a.cfg
	a.pricing = service.NewPricingService(service.PricingConfig{
		DefaultRatePerKm: decimal.NewFromFloat(cfg.DefaultRatePerKm),
		HelperFee:        decimal.NewFromFloat(cfg.HelperFee),
		Location:         cfg.Location(),
	})
	a.rides = service.NewRideService(a.store, a.pricing, a.bairros, a.cooldown, a.pub, a.logger,
		service.RideConfig{OpenTimeout: cfg.RideOpenTimeout, DriverCancelCooldown: cfg.DriverCancelCooldown}, nil)
	a.wallet = service.NewWalletService(a.store, a.pub, a.logger, nil)
	a.negotiation = service.NewNegotiationService(a.store, a.rides, a.pricing, a.bairros, a.pub, a.logger, cfg.RideOpenTimeout, nil)
	a.dispatch = service.NewDispatchService(a.store, a.presence, a.cooldown,
		service.DispatchConfig{MaxRides: cfg.DispatchMaxRides, OpenTimeout: cfg.RideOpenTimeout}, a.logger, nil)
	a.drivers = service.NewDriverService(a.store.Drivers(), a.store.Bairros(), a.bairros, a.presence, a.logger, nil)
	a.supervisor = service.NewTimeoutSupervisor(a.store.Rides(), a.rides, a.drivers,
		service.SupervisorConfig{OpenTimeout: cfg.RideOpenTimeout, SweepInterval: cfg.SweepInterval}, a.logger, nil)
}

// Close flushes the publishers, then releases connections in reverse order
// of acquisition.
func (a *app) Close() error {
	var errs []error
	if a.pub != nil {
		errs = append(errs, a.pub.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
