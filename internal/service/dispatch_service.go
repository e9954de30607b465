package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/carreto/dispatch/internal/cache"
	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/observability"
	"github.com/carreto/dispatch/internal/repository"
)

const DefaultDispatchMaxRides = 3

type DispatchConfig struct {
	MaxRides    int
	OpenTimeout time.Duration
}

type DispatchService interface {
	ListRidesForDriver(ctx context.Context, driverID string, exclude []string) ([]models.RideSummary, error)
}

type dispatchService struct {
	store    repository.Store
	presence cache.PresenceStore
	cooldown cache.CooldownStore
	cfg      DispatchConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatchService(
	store repository.Store,
	presence cache.PresenceStore,
	cooldown cache.CooldownStore,
	cfg DispatchConfig,
	logger *slog.Logger,
	now func() time.Time,
) DispatchService {
	if cfg.MaxRides <= 0 {
		cfg.MaxRides = DefaultDispatchMaxRides
	}
	if now == nil {
		now = time.Now
	}
	return &dispatchService{
		store:    store,
		presence: presence,
		cooldown: cooldown,
		cfg:      cfg,
		logger:   logger,
		now:      now,
	}
}

// ListRidesForDriver returns up to MaxRides random open rides from the
// driver's bairro. It is a snapshot: nothing is reserved, and the driver
// may race others to accept.
func (s *dispatchService) ListRidesForDriver(ctx context.Context, driverID string, exclude []string) ([]models.RideSummary, error) {
	driver, err := s.store.Drivers().GetByID(ctx, driverID)
	if err != nil {
		return nil, storeError(err)
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}

	p, err := s.presence.Get(ctx, driverID)
	if err != nil {
		return nil, apperrors.Upstream("presence", err)
	}
	if p == nil {
		return nil, apperrors.DriverOffline()
	}

	summaries := []models.RideSummary{}
	active, err := s.store.Rides().GetActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, storeError(err)
	}
	if active != nil {
		return summaries, nil
	}

	now := s.now()
	cooling, err := s.cooldown.Active(ctx, driverID, now)
	if err != nil {
		// Listing proceeds without the cooldown filter.
		s.logger.Warn("failed to read dispatch cooldown", "driver_id", driverID, "error", err)
	}

	rides, err := s.store.Rides().ListOpenForDriver(ctx, repository.DispatchQuery{
		BairroID:    driver.BairroID,
		DriverID:    driverID,
		Exclude:     append(append([]string{}, exclude...), cooling...),
		OpenedAfter: now.Add(-s.cfg.OpenTimeout),
		Limit:       s.cfg.MaxRides,
	})
	if err != nil {
		return nil, storeError(err)
	}

	for _, ride := range rides {
		summaries = append(summaries, ride.ToSummary())
	}
	observability.DispatchResultSize.Observe(float64(len(summaries)))
	return summaries, nil
}
