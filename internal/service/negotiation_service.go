package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carreto/dispatch/internal/cache"
	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/observability"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/shopspring/decimal"
)

type NegotiationService interface {
	ProposeCounter(ctx context.Context, rideID, driverID string, amount decimal.Decimal) (*models.CounterOffer, error)
	ListCounters(ctx context.Context, rideID, clientID string) ([]*models.CounterOffer, error)
	AcceptCounter(ctx context.Context, rideID, counterID, clientID string) (*models.AcceptResult, error)
	RejectCounter(ctx context.Context, rideID, counterID, clientID string) (*models.CounterOffer, error)
	WithdrawCounter(ctx context.Context, rideID, counterID, driverID string) (*models.CounterOffer, error)
}

type negotiationService struct {
	store   repository.Store
	rides   RideService
	pricing PricingService
	bairros cache.BairroCache
	timeout time.Duration
	notifier
}

func NewNegotiationService(
	store repository.Store,
	rides RideService,
	pricing PricingService,
	bairros cache.BairroCache,
	pub events.Publisher,
	logger *slog.Logger,
	openTimeout time.Duration,
	now func() time.Time,
) NegotiationService {
	if now == nil {
		now = time.Now
	}
	return &negotiationService{
		store:    store,
		rides:    rides,
		pricing:  pricing,
		bairros:  bairros,
		timeout:  openTimeout,
		notifier: notifier{pub: pub, logger: logger, now: now},
	}
}

func (s *negotiationService) ProposeCounter(ctx context.Context, rideID, driverID string, amount decimal.Decimal) (offer *models.CounterOffer, err error) {
	defer func() { observe("propose_counter", err) }()

	if !amount.IsPositive() {
		return nil, apperrors.Validation("amount must be positive")
	}
	ride, err := s.openRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	driver, _, err := lookupDriverInBairro(ctx, s.store, s.bairros, driverID, ride.BairroID)
	if err != nil {
		return nil, err
	}

	active, err := s.store.Rides().GetActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, storeError(err)
	}
	if active != nil {
		return nil, apperrors.DriverBusy()
	}
	existing, err := s.store.CounterOffers().GetPendingByRideAndDriver(ctx, rideID, driverID)
	if err != nil {
		return nil, storeError(err)
	}
	if existing != nil {
		return nil, apperrors.OfferAlreadyPending()
	}

	snap := driver.Snapshot()
	offer = &models.CounterOffer{
		RideID:        ride.ID,
		DriverID:      driver.ID,
		DriverName:    snap.Name,
		DriverRating:  snap.Rating,
		DriverVehicle: snap.Vehicle,
		Amount:        amount.Round(2),
		Status:        models.OfferStatusPending,
		CreatedAt:     s.now(),
	}
	// The ride row is locked so an accept cannot commit between the open
	// check and the insert.
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Rides().GetByIDForUpdate(ctx, ride.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status != models.RideStatusOpen {
			return apperrors.RideUnavailable()
		}
		return tx.CounterOffers().Create(ctx, offer)
	})
	if errors.Is(err, repository.ErrOfferAlreadyPending) {
		return nil, apperrors.OfferAlreadyPending()
	}
	if err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("counter-offer proposed", "ride_id", ride.ID, "driver_id", driver.ID, "amount", offer.Amount.String())
	s.publish(ctx, events.Event{
		Type:     events.TypeCounterProposed,
		RideID:   ride.ID,
		ClientID: ride.ClientID,
		Status:   offer.Status,
		Payload:  offer,
	})
	return offer, nil
}

// ListCounters returns the pending offers, cheapest first.
func (s *negotiationService) ListCounters(ctx context.Context, rideID, clientID string) ([]*models.CounterOffer, error) {
	if _, err := s.clientRide(ctx, rideID, clientID); err != nil {
		return nil, err
	}
	offers, err := s.store.CounterOffers().ListPendingByRide(ctx, rideID)
	if err != nil {
		return nil, storeError(err)
	}
	return offers, nil
}

// AcceptCounter matches the ride to the offering driver at the offered
// amount. The offer, the ride, the siblings and the fee debit all move in
// one transaction.
func (s *negotiationService) AcceptCounter(ctx context.Context, rideID, counterID, clientID string) (result *models.AcceptResult, err error) {
	start := time.Now()
	defer func() { observe("accept_counter", err) }()

	ride, err := s.clientRide(ctx, rideID, clientID)
	if err != nil {
		return nil, err
	}
	if ride, err = s.ensureOpen(ctx, ride); err != nil {
		return nil, err
	}
	offer, err := s.rideOffer(ctx, rideID, counterID)
	if err != nil {
		return nil, err
	}
	if !offer.IsPending() {
		return nil, apperrors.OfferUnavailable()
	}
	bairro, err := s.bairros.Bairro(ctx, ride.BairroID)
	if err != nil {
		return nil, apperrors.Upstream("bairro config", err)
	}

	now := s.now()
	amount := decimal.NewNullDecimal(offer.Amount)
	fee := s.pricing.PlatformFee(offer.Amount, ride.PaymentMethod, bairro)
	var entry *models.LedgerEntry
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := tx.CounterOffers().Resolve(ctx, offer.ID, models.OfferStatusAccepted, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.OfferUnavailable()
		}
		entry, err = matchInTx(ctx, tx, repository.MatchParams{
			RideID:   ride.ID,
			DriverID: offer.DriverID,
			Snapshot: models.DriverSnapshot{
				Name:    offer.DriverName,
				Rating:  offer.DriverRating,
				Vehicle: offer.DriverVehicle,
			},
			PlatformFee:        fee,
			QuotedTotal:        amount,
			CounterOfferAmount: amount,
			At:                 now,
		}, offer.ID)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	matched, err := s.store.Rides().GetByID(ctx, ride.ID)
	if err != nil {
		return nil, storeError(err)
	}
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	recordEntries(entry)
	s.logger.Info("counter-offer accepted",
		"ride_id", ride.ID,
		"offer_id", offer.ID,
		"driver_id", offer.DriverID,
		"amount", offer.Amount.String(),
	)
	s.publishResolved(ctx, offer, models.OfferStatusAccepted)
	s.publish(ctx, rideEvent(events.TypeRideMatched, matched))
	if entry != nil {
		s.publish(ctx, walletEvent(entry))
	}
	return &models.AcceptResult{OK: true, FeeCharged: fee, Ride: matched}, nil
}

// RejectCounter turns one offer down and lets that driver offer again.
func (s *negotiationService) RejectCounter(ctx context.Context, rideID, counterID, clientID string) (offer *models.CounterOffer, err error) {
	defer func() { observe("reject_counter", err) }()

	if _, err := s.clientRide(ctx, rideID, clientID); err != nil {
		return nil, err
	}
	offer, err = s.rideOffer(ctx, rideID, counterID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, offer, models.OfferStatusRejected)
}

func (s *negotiationService) WithdrawCounter(ctx context.Context, rideID, counterID, driverID string) (offer *models.CounterOffer, err error) {
	defer func() { observe("withdraw_counter", err) }()

	offer, err = s.rideOffer(ctx, rideID, counterID)
	if err != nil {
		return nil, err
	}
	if offer.DriverID != driverID {
		return nil, apperrors.NotRideDriver()
	}
	return s.resolve(ctx, offer, models.OfferStatusWithdrawn)
}

func (s *negotiationService) resolve(ctx context.Context, offer *models.CounterOffer, status string) (*models.CounterOffer, error) {
	if !offer.IsPending() {
		return nil, apperrors.OfferUnavailable()
	}
	ok, err := s.store.CounterOffers().Resolve(ctx, offer.ID, status, s.now())
	if err != nil {
		return nil, storeError(err)
	}
	if !ok {
		return nil, apperrors.OfferUnavailable()
	}
	resolved, err := s.store.CounterOffers().GetByID(ctx, offer.ID)
	if err != nil {
		return nil, storeError(err)
	}
	s.publishResolved(ctx, resolved, status)
	return resolved, nil
}

func (s *negotiationService) publishResolved(ctx context.Context, offer *models.CounterOffer, status string) {
	s.publish(ctx, events.Event{
		Type:     events.TypeCounterResolved,
		RideID:   offer.RideID,
		DriverID: offer.DriverID,
		Status:   status,
		Payload:  map[string]any{"offer_id": offer.ID, "amount": offer.Amount},
	})
}

func (s *negotiationService) openRide(ctx context.Context, rideID string) (*models.Ride, error) {
	ride, err := s.store.Rides().GetByID(ctx, rideID)
	if err != nil {
		return nil, storeError(err)
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	return s.ensureOpen(ctx, ride)
}

// ensureOpen expires a stale ride on the way through and rejects anything
// no longer open.
func (s *negotiationService) ensureOpen(ctx context.Context, ride *models.Ride) (*models.Ride, error) {
	if ride.IsExpired(s.now(), s.timeout) {
		if err := s.rides.ExpireRide(ctx, ride.ID); err != nil && !apperrors.IsGuardFailed(err) {
			return nil, err
		}
		return nil, apperrors.RideUnavailable()
	}
	if ride.Status != models.RideStatusOpen {
		return nil, apperrors.RideUnavailable()
	}
	return ride, nil
}

func (s *negotiationService) clientRide(ctx context.Context, rideID, clientID string) (*models.Ride, error) {
	ride, err := s.store.Rides().GetByID(ctx, rideID)
	if err != nil {
		return nil, storeError(err)
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	if ride.ClientID != clientID {
		return nil, apperrors.NotRideClient()
	}
	return ride, nil
}

func (s *negotiationService) rideOffer(ctx context.Context, rideID, counterID string) (*models.CounterOffer, error) {
	offer, err := s.store.CounterOffers().GetByID(ctx, counterID)
	if err != nil {
		return nil, storeError(err)
	}
	if offer == nil || offer.RideID != rideID {
		return nil, apperrors.NotFound("counter offer")
	}
	return offer, nil
}
