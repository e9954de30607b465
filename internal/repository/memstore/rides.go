package memstore

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/carreto/dispatch/pkg/utils"
)

type rideRepo struct {
	run runner
}

func copyRide(r *models.Ride) *models.Ride {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r *rideRepo) Create(ctx context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = utils.GenerateID()
	}
	ride.Status = models.RideStatusOpen
	ride.Version = 1
	return r.run(func(d *state) error {
		if _, ok := d.rides[ride.ID]; ok {
			return fmt.Errorf("ride %s already exists", ride.ID)
		}
		d.rides[ride.ID] = copyRide(ride)
		return nil
	})
}

func (r *rideRepo) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	var out *models.Ride
	err := r.run(func(d *state) error {
		out = copyRide(d.rides[id])
		return nil
	})
	return out, err
}

func (r *rideRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.Ride, error) {
	return r.GetByID(ctx, id)
}

func (r *rideRepo) GetActiveByDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	var out *models.Ride
	err := r.run(func(d *state) error {
		out = copyRide(activeRide(d, driverID))
		return nil
	})
	return out, err
}

func (r *rideRepo) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*models.Ride, error) {
	out := []*models.Ride{}
	err := r.run(func(d *state) error {
		var all []*models.Ride
		for _, ride := range d.rides {
			if ride.ClientID == clientID {
				all = append(all, ride)
			}
		}
		sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
		for i := offset; i < len(all) && len(out) < limit; i++ {
			out = append(out, copyRide(all[i]))
		}
		return nil
	})
	return out, err
}

func (r *rideRepo) ListOpenForDriver(ctx context.Context, q repository.DispatchQuery) ([]*models.Ride, error) {
	out := []*models.Ride{}
	err := r.run(func(d *state) error {
		excluded := make(map[string]bool, len(q.Exclude))
		for _, id := range q.Exclude {
			excluded[id] = true
		}
		bidOn := map[string]bool{}
		for _, o := range d.offers {
			if o.DriverID == q.DriverID && o.IsPending() {
				bidOn[o.RideID] = true
			}
		}

		var pool []*models.Ride
		for _, ride := range d.rides {
			if ride.Status != models.RideStatusOpen || ride.BairroID != q.BairroID {
				continue
			}
			if !ride.OpenedAt.After(q.OpenedAfter) || excluded[ride.ID] || bidOn[ride.ID] {
				continue
			}
			pool = append(pool, ride)
		}
		rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for i := 0; i < len(pool) && i < q.Limit; i++ {
			out = append(out, copyRide(pool[i]))
		}
		return nil
	})
	return out, err
}

func (r *rideRepo) ListExpiredOpen(ctx context.Context, openedBefore time.Time, limit int) ([]string, error) {
	ids := []string{}
	err := r.run(func(d *state) error {
		var stale []*models.Ride
		for _, ride := range d.rides {
			if ride.Status == models.RideStatusOpen && ride.OpenedAt.Before(openedBefore) {
				stale = append(stale, ride)
			}
		}
		sort.Slice(stale, func(i, j int) bool { return stale[i].OpenedAt.Before(stale[j].OpenedAt) })
		for i := 0; i < len(stale) && i < limit; i++ {
			ids = append(ids, stale[i].ID)
		}
		return nil
	})
	return ids, err
}

func (r *rideRepo) Match(ctx context.Context, p repository.MatchParams) (bool, error) {
	var ok bool
	err := r.run(func(d *state) error {
		cur := d.rides[p.RideID]
		if cur == nil || cur.Status != models.RideStatusOpen || cur.DriverID != nil {
			return nil
		}
		if activeRide(d, p.DriverID) != nil {
			return repository.ErrDriverBusy
		}

		next := copyRide(cur)
		driverID, name, vehicle, rating := p.DriverID, p.Snapshot.Name, p.Snapshot.Vehicle, p.Snapshot.Rating
		at := p.At
		next.Status = models.RideStatusMatched
		next.DriverID = &driverID
		next.DriverName = &name
		next.DriverRating = &rating
		next.DriverVehicle = &vehicle
		next.PlatformFee.Decimal, next.PlatformFee.Valid = p.PlatformFee, true
		if p.QuotedTotal.Valid {
			next.QuotedTotal = p.QuotedTotal.Decimal
		}
		next.CounterOfferAmount = p.CounterOfferAmount
		next.MatchedAt = &at
		next.UpdatedAt = at
		next.Version++
		d.rides[next.ID] = next
		ok = true
		return nil
	})
	return ok, err
}

func (r *rideRepo) Advance(ctx context.Context, g repository.RideGuard, to string, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		next.Status = to
	})
}

func (r *rideRepo) MarkArrived(ctx context.Context, g repository.RideGuard, pickupCode string, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		next.Status = models.RideStatusArrived
		next.PickupCode = &pickupCode
	})
}

func (r *rideRepo) ConfirmPickup(ctx context.Context, g repository.RideGuard, deliveryCode string, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		next.Status = models.RideStatusEnRouteDropoff
		next.PickupCode = nil
		next.DeliveryCode = &deliveryCode
	})
}

func (r *rideRepo) ConfirmDelivery(ctx context.Context, g repository.RideGuard, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		next.Status = models.RideStatusCompleted
		next.DeliveryCode = nil
		next.CompletedBy = next.DriverID
		next.DriverID = nil
		next.CompletedAt = &at
	})
}

func (r *rideRepo) Cancel(ctx context.Context, g repository.RideGuard, by string, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		next.Status = models.RideStatusCancelled
		next.DriverID = nil
		next.PickupCode = nil
		next.DeliveryCode = nil
		next.CancelledBy = &by
		next.CancelledAt = &at
	})
}

func (r *rideRepo) Reopen(ctx context.Context, g repository.RideGuard, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		next.Status = models.RideStatusOpen
		next.DriverID = nil
		next.DriverName = nil
		next.DriverRating = nil
		next.DriverVehicle = nil
		next.PlatformFee.Valid = false
		next.CounterOfferAmount.Valid = false
		next.QuotedTotal = next.BaseTotal()
		next.PickupCode = nil
		next.DeliveryCode = nil
		next.MatchedAt = nil
		next.OpenedAt = at
	})
}

func (r *rideRepo) Reject(ctx context.Context, g repository.RideGuard, at time.Time) (bool, error) {
	return r.update(g, at, func(next *models.Ride) {
		by := models.CancelledByClient
		next.Status = models.RideStatusRejectedByClient
		next.CancelledBy = &by
		next.CancelledAt = &at
	})
}

// update applies mutate to a copy of the ride if the guard still holds.
func (r *rideRepo) update(g repository.RideGuard, at time.Time, mutate func(next *models.Ride)) (bool, error) {
	var ok bool
	err := r.run(func(d *state) error {
		cur := d.rides[g.ID]
		if cur == nil || cur.Status != g.Status || cur.Version != g.Version {
			return nil
		}
		next := copyRide(cur)
		mutate(next)
		next.UpdatedAt = at
		next.Version++
		d.rides[next.ID] = next
		ok = true
		return nil
	})
	return ok, err
}

func activeRide(d *state, driverID string) *models.Ride {
	for _, ride := range d.rides {
		if ride.IsAssignedTo(driverID) && ride.HoldsDriver() {
			return ride
		}
	}
	return nil
}
