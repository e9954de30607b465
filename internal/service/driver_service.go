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

type DriverService interface {
	RegisterDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	Heartbeat(ctx context.Context, driverID string, req *models.HeartbeatRequest) (*models.Presence, error)
	GoOffline(ctx context.Context, driverID string) error
	IsOnline(ctx context.Context, driverID string) (bool, error)
	RefreshOnlineGauge(ctx context.Context) error
}

type driverService struct {
	driverRepo repository.DriverRepository
	bairroRepo repository.BairroRepository
	bairros    cache.BairroCache
	presence   cache.PresenceStore
	logger     *slog.Logger
	now        func() time.Time
}

func NewDriverService(
	driverRepo repository.DriverRepository,
	bairroRepo repository.BairroRepository,
	bairros cache.BairroCache,
	presence cache.PresenceStore,
	logger *slog.Logger,
	now func() time.Time,
) DriverService {
	if now == nil {
		now = time.Now
	}
	return &driverService{
		driverRepo: driverRepo,
		bairroRepo: bairroRepo,
		bairros:    bairros,
		presence:   presence,
		logger:     logger,
		now:        now,
	}
}

func (s *driverService) RegisterDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error) {
	bairro, err := s.bairros.Bairro(ctx, req.BairroID)
	if err != nil {
		return nil, apperrors.Upstream("bairro config", err)
	}
	if bairro == nil {
		return nil, apperrors.NotFound("bairro")
	}

	if req.ID != "" {
		existing, err := s.driverRepo.GetByID(ctx, req.ID)
		if err != nil {
			return nil, storeError(err)
		}
		if existing != nil {
			return nil, apperrors.Validation("driver already registered")
		}
	}

	now := s.now()
	driver := &models.Driver{
		ID:        req.ID,
		BairroID:  req.BairroID,
		Name:      req.Name,
		Phone:     req.Phone,
		Vehicle:   req.Vehicle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("driver registered", "driver_id", driver.ID, "bairro_id", driver.BairroID)
	return driver, nil
}

func (s *driverService) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	driver, err := s.driverRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}
	return driver, nil
}

// Heartbeat refreshes the driver's presence. Missing heartbeats for one TTL
// take the driver offline.
func (s *driverService) Heartbeat(ctx context.Context, driverID string, req *models.HeartbeatRequest) (*models.Presence, error) {
	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	p := models.Presence{
		DriverID:  driver.ID,
		BairroID:  driver.BairroID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		UpdatedAt: s.now(),
	}
	if req.Heading != nil {
		p.Heading = *req.Heading
	}
	if req.Speed != nil {
		p.Speed = *req.Speed
	}
	if err := s.presence.Heartbeat(ctx, p); err != nil {
		return nil, apperrors.Upstream("presence", err)
	}
	return &p, nil
}

func (s *driverService) GoOffline(ctx context.Context, driverID string) error {
	if _, err := s.GetDriver(ctx, driverID); err != nil {
		return err
	}
	if err := s.presence.Remove(ctx, driverID); err != nil {
		return apperrors.Upstream("presence", err)
	}
	s.logger.Info("driver went offline", "driver_id", driverID)
	return nil
}

func (s *driverService) IsOnline(ctx context.Context, driverID string) (bool, error) {
	p, err := s.presence.Get(ctx, driverID)
	if err != nil {
		return false, apperrors.Upstream("presence", err)
	}
	return p != nil, nil
}

// RefreshOnlineGauge recounts online drivers per bairro. It walks every
// presence set, so it runs on the supervisor tick rather than per heartbeat.
func (s *driverService) RefreshOnlineGauge(ctx context.Context) error {
	bairros, err := s.bairroRepo.List(ctx)
	if err != nil {
		return storeError(err)
	}
	for _, b := range bairros {
		online, err := s.presence.ListOnline(ctx, b.ID)
		if err != nil {
			return apperrors.Upstream("presence", err)
		}
		observability.DriversOnline.WithLabelValues(b.ID).Set(float64(len(online)))
	}
	return nil
}
