package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/carreto/dispatch/pkg/utils"
)

type counterOfferRepo struct {
	run runner
}

func copyOffer(o *models.CounterOffer) *models.CounterOffer {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func (r *counterOfferRepo) Create(ctx context.Context, offer *models.CounterOffer) error {
	if offer.ID == "" {
		offer.ID = utils.GenerateID()
	}
	offer.Status = models.OfferStatusPending
	return r.run(func(d *state) error {
		if pendingOffer(d, offer.RideID, offer.DriverID) != nil {
			return repository.ErrOfferAlreadyPending
		}
		d.offers[offer.ID] = copyOffer(offer)
		return nil
	})
}

func (r *counterOfferRepo) GetByID(ctx context.Context, id string) (*models.CounterOffer, error) {
	var out *models.CounterOffer
	err := r.run(func(d *state) error {
		out = copyOffer(d.offers[id])
		return nil
	})
	return out, err
}

func (r *counterOfferRepo) GetPendingByRideAndDriver(ctx context.Context, rideID, driverID string) (*models.CounterOffer, error) {
	var out *models.CounterOffer
	err := r.run(func(d *state) error {
		out = copyOffer(pendingOffer(d, rideID, driverID))
		return nil
	})
	return out, err
}

func (r *counterOfferRepo) ListPendingByRide(ctx context.Context, rideID string) ([]*models.CounterOffer, error) {
	out := []*models.CounterOffer{}
	err := r.run(func(d *state) error {
		for _, o := range d.offers {
			if o.RideID == rideID && o.IsPending() {
				out = append(out, copyOffer(o))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Amount.Equal(out[j].Amount) {
				return out[i].Amount.LessThan(out[j].Amount)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (r *counterOfferRepo) Resolve(ctx context.Context, id, status string, at time.Time) (bool, error) {
	var ok bool
	err := r.run(func(d *state) error {
		cur := d.offers[id]
		if cur == nil || !cur.IsPending() {
			return nil
		}
		d.offers[id] = resolved(cur, status, at)
		ok = true
		return nil
	})
	return ok, err
}

func (r *counterOfferRepo) SupersedePending(ctx context.Context, rideID, exceptID string, at time.Time) (int64, error) {
	var n int64
	err := r.run(func(d *state) error {
		for id, o := range d.offers {
			if o.RideID == rideID && o.IsPending() && id != exceptID {
				d.offers[id] = resolved(o, models.OfferStatusSuperseded, at)
				n++
			}
		}
		return nil
	})
	return n, err
}

func resolved(o *models.CounterOffer, status string, at time.Time) *models.CounterOffer {
	next := copyOffer(o)
	next.Status = status
	next.ResolvedAt = &at
	return next
}

func pendingOffer(d *state, rideID, driverID string) *models.CounterOffer {
	for _, o := range d.offers {
		if o.RideID == rideID && o.DriverID == driverID && o.IsPending() {
			return o
		}
	}
	return nil
}
