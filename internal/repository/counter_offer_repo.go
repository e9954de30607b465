package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type CounterOfferRepository interface {
	Create(ctx context.Context, offer *models.CounterOffer) error
	GetByID(ctx context.Context, id string) (*models.CounterOffer, error)
	GetPendingByRideAndDriver(ctx context.Context, rideID, driverID string) (*models.CounterOffer, error)
	ListPendingByRide(ctx context.Context, rideID string) ([]*models.CounterOffer, error)
	Resolve(ctx context.Context, id, status string, at time.Time) (bool, error)
	SupersedePending(ctx context.Context, rideID, exceptID string, at time.Time) (int64, error)
}

type counterOfferRepository struct {
	db sqlx.ExtContext
}

func NewCounterOfferRepository(db sqlx.ExtContext) CounterOfferRepository {
	return &counterOfferRepository{db: db}
}

const pendingOfferIndex = "counter_offers_one_pending_per_driver"

func (r *counterOfferRepository) Create(ctx context.Context, offer *models.CounterOffer) error {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	offer.Status = models.OfferStatusPending

	query := `
		INSERT INTO counter_offers (id, ride_id, driver_id, driver_name, driver_rating, driver_vehicle,
			amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		offer.ID, offer.RideID, offer.DriverID, offer.DriverName, offer.DriverRating, offer.DriverVehicle,
		offer.Amount, offer.Status, offer.CreatedAt)
	if isUniqueViolation(err, pendingOfferIndex) {
		return ErrOfferAlreadyPending
	}
	return err
}

func (r *counterOfferRepository) GetByID(ctx context.Context, id string) (*models.CounterOffer, error) {
	var offer models.CounterOffer
	query := `SELECT * FROM counter_offers WHERE id = $1`
	err := sqlx.GetContext(ctx, r.db, &offer, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *counterOfferRepository) GetPendingByRideAndDriver(ctx context.Context, rideID, driverID string) (*models.CounterOffer, error) {
	var offer models.CounterOffer
	query := `SELECT * FROM counter_offers WHERE ride_id = $1 AND driver_id = $2 AND status = $3`
	err := sqlx.GetContext(ctx, r.db, &offer, query, rideID, driverID, models.OfferStatusPending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// ListPendingByRide returns pending offers cheapest first.
func (r *counterOfferRepository) ListPendingByRide(ctx context.Context, rideID string) ([]*models.CounterOffer, error) {
	offers := []*models.CounterOffer{}
	query := `
		SELECT * FROM counter_offers
		WHERE ride_id = $1 AND status = $2
		ORDER BY amount ASC, created_at ASC
	`
	err := sqlx.SelectContext(ctx, r.db, &offers, query, rideID, models.OfferStatusPending)
	return offers, err
}

// Resolve moves a pending offer to its final status. It reports false when
// the offer was already resolved.
func (r *counterOfferRepository) Resolve(ctx context.Context, id, status string, at time.Time) (bool, error) {
	query := `
		UPDATE counter_offers SET status = $1, resolved_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, status, at, id, models.OfferStatusPending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *counterOfferRepository) SupersedePending(ctx context.Context, rideID, exceptID string, at time.Time) (int64, error) {
	query := `
		UPDATE counter_offers SET status = $1, resolved_at = $2
		WHERE ride_id = $3 AND status = $4 AND id <> $5
	`
	res, err := r.db.ExecContext(ctx, query,
		models.OfferStatusSuperseded, at, rideID, models.OfferStatusPending, exceptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
