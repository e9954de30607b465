package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// RideGuard pins the state a conditional update expects to find. The update
// only applies if the row still has this status and version.
type RideGuard struct {
	ID      string
	Status  string
	Version int
}

func GuardOf(ride *models.Ride) RideGuard {
	return RideGuard{ID: ride.ID, Status: ride.Status, Version: ride.Version}
}

// MatchParams describes an open → matched transition. QuotedTotal and
// CounterOfferAmount are set only when a counter-offer is accepted.
type MatchParams struct {
	RideID             string
	DriverID           string
	Snapshot           models.DriverSnapshot
	PlatformFee        decimal.Decimal
	QuotedTotal        decimal.NullDecimal
	CounterOfferAmount decimal.NullDecimal
	At                 time.Time
}

// DispatchQuery selects open rides a driver may be offered.
type DispatchQuery struct {
	BairroID    string
	DriverID    string
	Exclude     []string
	OpenedAfter time.Time
	Limit       int
}

type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id string) (*models.Ride, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Ride, error)
	GetActiveByDriver(ctx context.Context, driverID string) (*models.Ride, error)
	ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*models.Ride, error)
	ListOpenForDriver(ctx context.Context, q DispatchQuery) ([]*models.Ride, error)
	ListExpiredOpen(ctx context.Context, openedBefore time.Time, limit int) ([]string, error)
	Match(ctx context.Context, p MatchParams) (bool, error)
	Advance(ctx context.Context, g RideGuard, to string, at time.Time) (bool, error)
	MarkArrived(ctx context.Context, g RideGuard, pickupCode string, at time.Time) (bool, error)
	ConfirmPickup(ctx context.Context, g RideGuard, deliveryCode string, at time.Time) (bool, error)
	ConfirmDelivery(ctx context.Context, g RideGuard, at time.Time) (bool, error)
	Cancel(ctx context.Context, g RideGuard, by string, at time.Time) (bool, error)
	Reopen(ctx context.Context, g RideGuard, at time.Time) (bool, error)
	Reject(ctx context.Context, g RideGuard, at time.Time) (bool, error)
}

type rideRepository struct {
	db sqlx.ExtContext
}

func NewRideRepository(db sqlx.ExtContext) RideRepository {
	return &rideRepository{db: db}
}

const activeDriverIndex = "rides_one_active_per_driver"

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = uuid.New().String()
	}
	ride.Status = models.RideStatusOpen
	ride.Version = 1

	query := `
		INSERT INTO rides (id, client_id, bairro_id, status, pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address, distance_km, duration_min, items,
			items_total, distance_total, helper_total, helper_requested, surge_multiplier,
			payment_method, quoted_total, version, opened_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24)
	`
	_, err := r.db.ExecContext(ctx, query,
		ride.ID, ride.ClientID, ride.BairroID, ride.Status, ride.PickupLat, ride.PickupLng, ride.PickupAddress,
		ride.DropoffLat, ride.DropoffLng, ride.DropoffAddress, ride.DistanceKm, ride.DurationMin, ride.Items,
		ride.ItemsTotal, ride.DistanceTotal, ride.HelperTotal, ride.HelperRequested, ride.SurgeMultiplier,
		ride.PaymentMethod, ride.QuotedTotal, ride.Version, ride.OpenedAt, ride.CreatedAt, ride.UpdatedAt)
	return err
}

func (r *rideRepository) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	return r.getOne(ctx, `SELECT * FROM rides WHERE id = $1`, id)
}

// GetByIDForUpdate locks the row for the rest of the transaction.
func (r *rideRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Ride, error) {
	return r.getOne(ctx, `SELECT * FROM rides WHERE id = $1 FOR UPDATE`, id)
}

func (r *rideRepository) GetActiveByDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	query := `
		SELECT * FROM rides
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY matched_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, driverID, pq.Array(models.DriverHeldStatuses))
}

func (r *rideRepository) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*models.Ride, error) {
	rides := []*models.Ride{}
	query := `
		SELECT * FROM rides
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := sqlx.SelectContext(ctx, r.db, &rides, query, clientID, limit, offset)
	return rides, err
}

// ListOpenForDriver picks up to q.Limit random open rides in the driver's
// bairro, skipping excluded rides and rides the driver already bid on.
func (r *rideRepository) ListOpenForDriver(ctx context.Context, q DispatchQuery) ([]*models.Ride, error) {
	rides := []*models.Ride{}
	query := `
		SELECT r.* FROM rides r
		WHERE r.status = $1
			AND r.bairro_id = $2
			AND r.opened_at > $3
			AND NOT (r.id = ANY($4))
			AND NOT EXISTS (
				SELECT 1 FROM counter_offers c
				WHERE c.ride_id = r.id AND c.driver_id = $5 AND c.status = $6
			)
		ORDER BY random()
		LIMIT $7
	`
	exclude := q.Exclude
	if exclude == nil {
		exclude = []string{}
	}
	err := sqlx.SelectContext(ctx, r.db, &rides, query,
		models.RideStatusOpen, q.BairroID, q.OpenedAfter, pq.Array(exclude),
		q.DriverID, models.OfferStatusPending, q.Limit)
	return rides, err
}

func (r *rideRepository) ListExpiredOpen(ctx context.Context, openedBefore time.Time, limit int) ([]string, error) {
	ids := []string{}
	query := `
		SELECT id FROM rides
		WHERE status = $1 AND opened_at < $2
		ORDER BY opened_at ASC
		LIMIT $3
	`
	err := sqlx.SelectContext(ctx, r.db, &ids, query, models.RideStatusOpen, openedBefore, limit)
	return ids, err
}

// Match is the exactly-one-winner write: it only applies while the ride is
// still open and unassigned.
func (r *rideRepository) Match(ctx context.Context, p MatchParams) (bool, error) {
	query := `
		UPDATE rides
		SET status = $1, driver_id = $2, driver_name = $3, driver_rating = $4, driver_vehicle = $5,
			platform_fee = $6, quoted_total = COALESCE($7, quoted_total), counter_offer_amount = $8,
			matched_at = $9, updated_at = $9, version = version + 1
		WHERE id = $10 AND status = $11 AND driver_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, query,
		models.RideStatusMatched, p.DriverID, p.Snapshot.Name, p.Snapshot.Rating, p.Snapshot.Vehicle,
		p.PlatformFee, p.QuotedTotal, p.CounterOfferAmount,
		p.At, p.RideID, models.RideStatusOpen)
	if err != nil {
		if isUniqueViolation(err, activeDriverIndex) {
			return false, ErrDriverBusy
		}
		return false, err
	}
	return affected(res)
}

func (r *rideRepository) Advance(ctx context.Context, g RideGuard, to string, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND status = $4 AND version = $5
	`
	return r.exec(ctx, query, to, at, g.ID, g.Status, g.Version)
}

func (r *rideRepository) MarkArrived(ctx context.Context, g RideGuard, pickupCode string, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, pickup_code = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND status = $5 AND version = $6
	`
	return r.exec(ctx, query, models.RideStatusArrived, pickupCode, at, g.ID, g.Status, g.Version)
}

// ConfirmPickup consumes the pickup code and mints the delivery code in one
// write, passing through loading straight to en_route_dropoff.
func (r *rideRepository) ConfirmPickup(ctx context.Context, g RideGuard, deliveryCode string, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, pickup_code = NULL, delivery_code = $2, updated_at = $3,
			version = version + 1
		WHERE id = $4 AND status = $5 AND version = $6
	`
	return r.exec(ctx, query, models.RideStatusEnRouteDropoff, deliveryCode, at, g.ID, g.Status, g.Version)
}

func (r *rideRepository) ConfirmDelivery(ctx context.Context, g RideGuard, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, delivery_code = NULL, completed_by = driver_id, driver_id = NULL,
			completed_at = $2,
			updated_at = $2, version = version + 1
		WHERE id = $3 AND status = $4 AND version = $5
	`
	return r.exec(ctx, query, models.RideStatusCompleted, at, g.ID, g.Status, g.Version)
}

func (r *rideRepository) Cancel(ctx context.Context, g RideGuard, by string, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, driver_id = NULL, pickup_code = NULL, delivery_code = NULL,
			cancelled_by = $2, cancelled_at = $3, updated_at = $3, version = version + 1
		WHERE id = $4 AND status = $5 AND version = $6
	`
	return r.exec(ctx, query, models.RideStatusCancelled, by, at, g.ID, g.Status, g.Version)
}

// Reopen hands a matched ride back to the pool at its original price.
func (r *rideRepository) Reopen(ctx context.Context, g RideGuard, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, driver_id = NULL, driver_name = NULL, driver_rating = NULL,
			driver_vehicle = NULL, platform_fee = NULL, counter_offer_amount = NULL,
			quoted_total = items_total + distance_total + helper_total,
			pickup_code = NULL, delivery_code = NULL, matched_at = NULL,
			opened_at = $2, updated_at = $2, version = version + 1
		WHERE id = $3 AND status = $4 AND version = $5
	`
	return r.exec(ctx, query, models.RideStatusOpen, at, g.ID, g.Status, g.Version)
}

func (r *rideRepository) Reject(ctx context.Context, g RideGuard, at time.Time) (bool, error) {
	query := `
		UPDATE rides SET status = $1, cancelled_by = $2, cancelled_at = $3, updated_at = $3,
			version = version + 1
		WHERE id = $4 AND status = $5 AND version = $6
	`
	return r.exec(ctx, query, models.RideStatusRejectedByClient, models.CancelledByClient, at,
		g.ID, g.Status, g.Version)
}

func (r *rideRepository) getOne(ctx context.Context, query string, args ...any) (*models.Ride, error) {
	var ride models.Ride
	err := sqlx.GetContext(ctx, r.db, &ride, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (r *rideRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
