package service

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/repository"
)

const sweepBatchSize = 100

type SupervisorConfig struct {
	OpenTimeout   time.Duration
	SweepInterval time.Duration
}

// TimeoutSupervisor cancels open rides nobody accepted in time. Read paths
// expire rides too, so the sweep only has to catch rides nobody looks at.
type TimeoutSupervisor struct {
	rides   repository.RideRepository
	svc     RideService
	drivers DriverService
	cfg     SupervisorConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewTimeoutSupervisor builds the sweeper. drivers may be nil, in which case
// the online-driver gauge is not refreshed.
func NewTimeoutSupervisor(
	rides repository.RideRepository,
	svc RideService,
	drivers DriverService,
	cfg SupervisorConfig,
	logger *slog.Logger,
	now func() time.Time,
) *TimeoutSupervisor {
	if now == nil {
		now = time.Now
	}
	return &TimeoutSupervisor{rides: rides, svc: svc, drivers: drivers, cfg: cfg, logger: logger, now: now}
}

// Sweep runs one pass and returns how many rides it expired. Rides another
// path already handled are skipped.
func (s *TimeoutSupervisor) Sweep(ctx context.Context) (int, error) {
	expired := 0
	for {
		ids, err := s.rides.ListExpiredOpen(ctx, s.now().Add(-s.cfg.OpenTimeout), sweepBatchSize)
		if err != nil {
			return expired, apperrors.Upstream("store", err)
		}

		progress := 0
		for _, id := range ids {
			err := s.svc.ExpireRide(ctx, id)
			switch {
			case err == nil:
				progress++
			case apperrors.IsGuardFailed(err):
			default:
				s.logger.Error("failed to expire ride", "ride_id", id, "error", err)
			}
		}
		expired += progress

		if len(ids) < sweepBatchSize || progress == 0 {
			return expired, nil
		}
	}
}

func (s *TimeoutSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("timeout supervisor started", "interval", s.cfg.SweepInterval, "open_timeout", s.cfg.OpenTimeout)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout supervisor stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *TimeoutSupervisor) tick(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("timeout sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("timeout sweep expired rides", "count", n)
	}

	if s.drivers != nil {
		if err := s.drivers.RefreshOnlineGauge(ctx); err != nil {
			s.logger.Warn("failed to refresh online driver gauge", "error", err)
		}
	}
}
