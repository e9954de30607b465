package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/carreto/dispatch/internal/cache"
	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/observability"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/shopspring/decimal"
)

type RideConfig struct {
	OpenTimeout          time.Duration
	DriverCancelCooldown time.Duration
}

type RideService interface {
	CreateRide(ctx context.Context, req *models.CreateRideRequest) (*models.Ride, error)
	GetRide(ctx context.Context, id string) (*models.RideResponse, error)
	ListClientRides(ctx context.Context, clientID string, page, pageSize int) ([]*models.Ride, error)
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.RideResponse, error)
	AcceptRide(ctx context.Context, rideID, driverID string) (*models.AcceptResult, error)
	StartPickup(ctx context.Context, rideID, driverID string) (*models.TransitionResult, error)
	ArriveAtPickup(ctx context.Context, rideID, driverID string) (*models.TransitionResult, error)
	ConfirmPickupCode(ctx context.Context, rideID, code string) (*models.TransitionResult, error)
	ConfirmDeliveryCode(ctx context.Context, rideID, code string) (*models.TransitionResult, error)
	CancelByClient(ctx context.Context, rideID, clientID string) (*models.TransitionResult, error)
	CancelByDriver(ctx context.Context, rideID, driverID string) (*models.TransitionResult, error)
	RejectByClient(ctx context.Context, rideID, clientID string) (*models.TransitionResult, error)
	ExpireRide(ctx context.Context, rideID string) error
}

type rideService struct {
	store    repository.Store
	pricing  PricingService
	bairros  cache.BairroCache
	cooldown cache.CooldownStore
	cfg      RideConfig
	notifier
}

func NewRideService(
	store repository.Store,
	pricing PricingService,
	bairros cache.BairroCache,
	cooldown cache.CooldownStore,
	pub events.Publisher,
	logger *slog.Logger,
	cfg RideConfig,
	now func() time.Time,
) RideService {
	if now == nil {
		now = time.Now
	}
	return &rideService{
		store:    store,
		pricing:  pricing,
		bairros:  bairros,
		cooldown: cooldown,
		cfg:      cfg,
		notifier: notifier{pub: pub, logger: logger, now: now},
	}
}

func (s *rideService) CreateRide(ctx context.Context, req *models.CreateRideRequest) (*models.Ride, error) {
	bairro, err := s.bairros.Bairro(ctx, req.BairroID)
	if err != nil {
		return nil, apperrors.Upstream("bairro config", err)
	}
	if bairro == nil {
		return nil, apperrors.NotFound("bairro")
	}
	windows, err := s.bairros.SurgeWindows(ctx, req.BairroID)
	if err != nil {
		return nil, apperrors.Upstream("bairro config", err)
	}

	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	distance := decimal.NewFromFloat(req.DistanceKm).Round(2)
	quote := s.pricing.ResolveQuote(QuoteInput{
		DistanceKm:      distance,
		ItemsTotal:      s.pricing.ItemsTotal(items),
		HelperRequested: req.HelperRequested,
		Bairro:          bairro,
		Windows:         windows,
	}, now)

	ride := &models.Ride{
		ClientID:        req.ClientID,
		BairroID:        req.BairroID,
		PickupLat:       req.Pickup.Lat,
		PickupLng:       req.Pickup.Lng,
		PickupAddress:   req.Pickup.Address,
		DropoffLat:      req.Dropoff.Lat,
		DropoffLng:      req.Dropoff.Lng,
		DropoffAddress:  req.Dropoff.Address,
		DistanceKm:      distance,
		DurationMin:     req.DurationMin,
		Items:           items,
		ItemsTotal:      quote.ItemsTotal,
		DistanceTotal:   quote.DistanceTotal,
		HelperTotal:     quote.HelperTotal,
		HelperRequested: req.HelperRequested,
		SurgeMultiplier: quote.SurgeMultiplier,
		PaymentMethod:   req.PaymentMethod,
		QuotedTotal:     quote.GrandTotal,
		OpenedAt:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Rides().Create(ctx, ride); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("ride created",
		"ride_id", ride.ID,
		"bairro_id", ride.BairroID,
		"quoted_total", ride.QuotedTotal.String(),
		"surge", quote.SurgeMultiplier.String(),
	)
	s.publish(ctx, rideEvent(events.TypeRideCreated, ride))
	return ride, nil
}

func (s *rideService) resolveItems(ctx context.Context, reqItems []models.CreateRideItemRequest) (models.RideItems, error) {
	items := models.RideItems{}
	if len(reqItems) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(reqItems))
	for _, it := range reqItems {
		ids = append(ids, it.CatalogItemID)
	}
	catalog, err := s.store.Catalog().GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Upstream("catalog", err)
	}
	byID := make(map[string]*models.CatalogItem, len(catalog))
	for _, c := range catalog {
		byID[c.ID] = c
	}

	for _, it := range reqItems {
		c, ok := byID[it.CatalogItemID]
		if !ok {
			return nil, apperrors.Validation("unknown catalog item: " + it.CatalogItemID)
		}
		items = append(items, models.RideItem{
			CatalogItemID: c.ID,
			Name:          c.Name,
			Quantity:      it.Quantity,
			UnitPrice:     c.Price,
		})
	}
	return items, nil
}

// GetRide expires a stale open ride before returning it.
func (s *rideService) GetRide(ctx context.Context, id string) (*models.RideResponse, error) {
	ride, err := s.getRide(ctx, id)
	if err != nil {
		return nil, err
	}
	ride, err = s.expireIfStale(ctx, ride)
	if err != nil {
		return nil, err
	}
	return ride.ToResponse(), nil
}

func (s *rideService) ListClientRides(ctx context.Context, clientID string, page, pageSize int) ([]*models.Ride, error) {
	page, pageSize = normalizePage(page, pageSize)
	rides, err := s.store.Rides().ListByClient(ctx, clientID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, storeError(err)
	}
	for i, ride := range rides {
		if rides[i], err = s.expireIfStale(ctx, ride); err != nil {
			return nil, err
		}
	}
	return rides, nil
}

func (s *rideService) ActiveRideForDriver(ctx context.Context, driverID string) (*models.RideResponse, error) {
	ride, err := s.store.Rides().GetActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, storeError(err)
	}
	if ride == nil {
		return nil, apperrors.NotFound("active ride")
	}
	return ride.ToDriverResponse(), nil
}

// AcceptRide is the direct accept at the quoted price. The status flip and
// the fee debit commit together or not at all.
func (s *rideService) AcceptRide(ctx context.Context, rideID, driverID string) (result *models.AcceptResult, err error) {
	start := time.Now()
	defer func() { observe("accept", err) }()

	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride, err = s.expireIfStale(ctx, ride); err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusOpen {
		return nil, apperrors.RideUnavailable()
	}

	driver, bairro, err := s.driverInBairro(ctx, driverID, ride.BairroID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fee := s.pricing.PlatformFee(ride.QuotedTotal, ride.PaymentMethod, bairro)
	var entry *models.LedgerEntry
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = matchInTx(ctx, tx, repository.MatchParams{
			RideID:      ride.ID,
			DriverID:    driver.ID,
			Snapshot:    driver.Snapshot(),
			PlatformFee: fee,
			At:          now,
		}, "")
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	matched, err := s.getRide(ctx, ride.ID)
	if err != nil {
		return nil, err
	}
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	recordEntries(entry)
	s.logger.Info("ride accepted", "ride_id", ride.ID, "driver_id", driver.ID, "fee", fee.String())
	s.publish(ctx, rideEvent(events.TypeRideMatched, matched))
	if entry != nil {
		s.publish(ctx, walletEvent(entry))
	}
	return &models.AcceptResult{OK: true, FeeCharged: fee, Ride: matched}, nil
}

func (s *rideService) StartPickup(ctx context.Context, rideID, driverID string) (result *models.TransitionResult, err error) {
	defer func() { observe("start_pickup", err) }()
	return s.driverStep(ctx, rideID, driverID, models.RideStatusEnRoutePickup,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			return tx.Rides().Advance(ctx, g, models.RideStatusEnRoutePickup, at)
		})
}

// ArriveAtPickup mints the pickup code the client reads out to the driver.
func (s *rideService) ArriveAtPickup(ctx context.Context, rideID, driverID string) (result *models.TransitionResult, err error) {
	defer func() { observe("arrive", err) }()
	code, err := newHandoffCode()
	if err != nil {
		return nil, apperrors.InternalError("could not mint pickup code")
	}
	return s.driverStep(ctx, rideID, driverID, models.RideStatusArrived,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			return tx.Rides().MarkArrived(ctx, g, code, at)
		})
}

func (s *rideService) driverStep(
	ctx context.Context,
	rideID, driverID, to string,
	apply func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error),
) (*models.TransitionResult, error) {
	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.CanTransitionTo(to) {
		return nil, apperrors.InvalidTransition(ride.Status, to)
	}
	if !ride.IsAssignedTo(driverID) {
		return nil, apperrors.NotRideDriver()
	}
	return s.guarded(ctx, ride, events.TypeRideStatusChanged, apply)
}

// ConfirmPickupCode checks the code the driver typed. A wrong code changes
// nothing and leaves the same code valid.
func (s *rideService) ConfirmPickupCode(ctx context.Context, rideID, code string) (result *models.TransitionResult, err error) {
	defer func() { observe("confirm_pickup", err) }()

	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.CanTransitionTo(models.RideStatusEnRouteDropoff) {
		return nil, apperrors.InvalidTransition(ride.Status, models.RideStatusEnRouteDropoff)
	}
	if !codesMatch(ride.PickupCode, code) {
		return nil, apperrors.IncorrectCode()
	}

	delivery, err := newHandoffCode()
	if err != nil {
		return nil, apperrors.InternalError("could not mint delivery code")
	}
	return s.guarded(ctx, ride, events.TypeRideStatusChanged,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			return tx.Rides().ConfirmPickup(ctx, g, delivery, at)
		})
}

// ConfirmDeliveryCode completes the ride. No money moves here.
func (s *rideService) ConfirmDeliveryCode(ctx context.Context, rideID, code string) (result *models.TransitionResult, err error) {
	defer func() { observe("confirm_delivery", err) }()

	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.CanTransitionTo(models.RideStatusCompleted) {
		return nil, apperrors.InvalidTransition(ride.Status, models.RideStatusCompleted)
	}
	if !codesMatch(ride.DeliveryCode, code) {
		return nil, apperrors.IncorrectCode()
	}
	return s.guarded(ctx, ride, events.TypeRideStatusChanged,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			return tx.Rides().ConfirmDelivery(ctx, g, at)
		})
}

func (s *rideService) CancelByClient(ctx context.Context, rideID, clientID string) (result *models.TransitionResult, err error) {
	defer func() { observe("cancel_client", err) }()

	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.ClientID != clientID {
		return nil, apperrors.NotRideClient()
	}
	if ride.IsExpired(s.now(), s.cfg.OpenTimeout) {
		if err := s.expire(ctx, ride); err != nil && !apperrors.IsGuardFailed(err) {
			return nil, err
		}
		return nil, apperrors.AlreadyHandled()
	}
	if ride.IsTerminal() {
		return nil, apperrors.AlreadyHandled()
	}
	if !ride.CanTransitionTo(models.RideStatusCancelled) {
		return nil, apperrors.InvalidTransition(ride.Status, models.RideStatusCancelled)
	}

	var refund *models.LedgerEntry
	cancelled, err := s.guardedWith(ctx, ride,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			ok, err := tx.Rides().Cancel(ctx, g, models.CancelledByClient, at)
			if err != nil || !ok {
				return ok, err
			}
			if _, err := tx.CounterOffers().SupersedePending(ctx, ride.ID, "", at); err != nil {
				return false, err
			}
			refund, err = refundFee(ctx, tx, ride, at)
			return err == nil, err
		})
	if err != nil {
		return nil, err
	}

	recordEntries(refund)
	e := rideEvent(events.TypeRideCancelled, cancelled)
	if ride.DriverID != nil {
		e.DriverID = *ride.DriverID
	}
	s.publish(ctx, e)
	if refund != nil {
		s.publish(ctx, walletEvent(refund))
	}
	return &models.TransitionResult{OK: true, Ride: cancelled}, nil
}

// CancelByDriver hands a matched ride back to the pool. The ride reopens and
// the fee is refunded in one transaction; the driver is kept from seeing the
// ride again until the cooldown ends.
func (s *rideService) CancelByDriver(ctx context.Context, rideID, driverID string) (result *models.TransitionResult, err error) {
	defer func() { observe("cancel_driver", err) }()

	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.IsAssignedTo(driverID) {
		return nil, apperrors.NotRideDriver()
	}
	if !ride.CanTransitionTo(models.RideStatusOpen) {
		return nil, apperrors.InvalidTransition(ride.Status, models.RideStatusOpen)
	}

	var refund *models.LedgerEntry
	reopened, err := s.guardedWith(ctx, ride,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			ok, err := tx.Rides().Reopen(ctx, g, at)
			if err != nil || !ok {
				return ok, err
			}
			refund, err = refundFee(ctx, tx, ride, at)
			return err == nil, err
		})
	if err != nil {
		return nil, err
	}

	if err := s.cooldown.Add(ctx, driverID, ride.ID, s.now().Add(s.cfg.DriverCancelCooldown)); err != nil {
		s.logger.Warn("failed to record dispatch cooldown", "ride_id", ride.ID, "driver_id", driverID, "error", err)
	}
	recordEntries(refund)
	s.logger.Info("ride handed back", "ride_id", ride.ID, "driver_id", driverID)

	handedBack := rideEvent(events.TypeRideDriverCancelled, reopened)
	handedBack.DriverID = driverID
	s.publish(ctx, handedBack)
	s.publish(ctx, rideEvent(events.TypeRideReopened, reopened))
	if refund != nil {
		s.publish(ctx, walletEvent(refund))
	}
	return &models.TransitionResult{OK: true, Ride: reopened}, nil
}

func (s *rideService) RejectByClient(ctx context.Context, rideID, clientID string) (result *models.TransitionResult, err error) {
	defer func() { observe("reject", err) }()

	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.ClientID != clientID {
		return nil, apperrors.NotRideClient()
	}
	if ride, err = s.expireIfStale(ctx, ride); err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusOpen {
		return nil, apperrors.AlreadyHandled()
	}
	return s.guarded(ctx, ride, events.TypeRideRejected,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			ok, err := tx.Rides().Reject(ctx, g, at)
			if err != nil || !ok {
				return ok, err
			}
			_, err = tx.CounterOffers().SupersedePending(ctx, ride.ID, "", at)
			return err == nil, err
		})
}

// ExpireRide cancels an open ride that outlived the open timeout. It is
// safe to call repeatedly; only the first call wins.
func (s *rideService) ExpireRide(ctx context.Context, rideID string) error {
	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return err
	}
	if !ride.IsExpired(s.now(), s.cfg.OpenTimeout) {
		return apperrors.AlreadyHandled()
	}
	return s.expire(ctx, ride)
}

func (s *rideService) expireIfStale(ctx context.Context, ride *models.Ride) (*models.Ride, error) {
	if !ride.IsExpired(s.now(), s.cfg.OpenTimeout) {
		return ride, nil
	}
	if err := s.expire(ctx, ride); err != nil && !apperrors.IsGuardFailed(err) {
		return nil, err
	}
	return s.getRide(ctx, ride.ID)
}

// expire uses the same guarded cancel as the client, tagged system, with no
// refund since an open ride never carries a fee.
func (s *rideService) expire(ctx context.Context, ride *models.Ride) (err error) {
	defer func() { observe("expire", err) }()

	expired, err := s.guardedWith(ctx, ride,
		func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error) {
			ok, err := tx.Rides().Cancel(ctx, g, models.CancelledBySystem, at)
			if err != nil || !ok {
				return ok, err
			}
			_, err = tx.CounterOffers().SupersedePending(ctx, ride.ID, "", at)
			return err == nil, err
		})
	if err != nil {
		return err
	}
	observability.RidesExpiredTotal.Inc()
	s.logger.Info("open ride expired", "ride_id", ride.ID, "opened_at", ride.OpenedAt)
	s.publish(ctx, rideEvent(events.TypeRideExpired, expired))
	return nil
}

// guarded runs apply in a transaction and publishes eventType on success.
func (s *rideService) guarded(
	ctx context.Context,
	ride *models.Ride,
	eventType string,
	apply func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error),
) (*models.TransitionResult, error) {
	next, err := s.guardedWith(ctx, ride, apply)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, rideEvent(eventType, next))
	return &models.TransitionResult{OK: true, Ride: next}, nil
}

// guardedWith commits apply against the version the caller read. A lost
// race reports already_handled and writes nothing.
func (s *rideService) guardedWith(
	ctx context.Context,
	ride *models.Ride,
	apply func(tx repository.Tx, g repository.RideGuard, at time.Time) (bool, error),
) (*models.Ride, error) {
	at := s.now()
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := apply(tx, repository.GuardOf(ride), at)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.AlreadyHandled()
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return s.getRide(ctx, ride.ID)
}

func (s *rideService) getRide(ctx context.Context, id string) (*models.Ride, error) {
	ride, err := s.store.Rides().GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	return ride, nil
}

func (s *rideService) driverInBairro(ctx context.Context, driverID, bairroID string) (*models.Driver, *models.Bairro, error) {
	return lookupDriverInBairro(ctx, s.store, s.bairros, driverID, bairroID)
}

func lookupDriverInBairro(
	ctx context.Context,
	store repository.Store,
	bairros cache.BairroCache,
	driverID, bairroID string,
) (*models.Driver, *models.Bairro, error) {
	driver, err := store.Drivers().GetByID(ctx, driverID)
	if err != nil {
		return nil, nil, storeError(err)
	}
	if driver == nil {
		return nil, nil, apperrors.NotFound("driver")
	}
	if driver.BairroID != bairroID {
		return nil, nil, apperrors.OutsideServiceArea()
	}
	bairro, err := bairros.Bairro(ctx, bairroID)
	if err != nil {
		return nil, nil, apperrors.Upstream("bairro config", err)
	}
	return driver, bairro, nil
}

// matchInTx swaps open → matched, supersedes other pending offers and debits
// the fee. It must run inside the caller's transaction.
func matchInTx(ctx context.Context, tx repository.Tx, p repository.MatchParams, keepOfferID string) (*models.LedgerEntry, error) {
	locked, err := tx.Rides().GetByIDForUpdate(ctx, p.RideID)
	if err != nil {
		return nil, err
	}
	if locked == nil || !locked.CanTransitionTo(models.RideStatusMatched) {
		return nil, apperrors.RideUnavailable()
	}

	ok, err := tx.Rides().Match(ctx, p)
	if errors.Is(err, repository.ErrDriverBusy) {
		return nil, apperrors.DriverBusy()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.RideUnavailable()
	}
	if _, err := tx.CounterOffers().SupersedePending(ctx, p.RideID, keepOfferID, p.At); err != nil {
		return nil, err
	}
	if !p.PlatformFee.IsPositive() {
		return nil, nil
	}

	entry, err := appendEntry(ctx, tx.Ledger(), p.DriverID, models.EntryTypeDebit, models.ReasonPlatformFee,
		p.PlatformFee, strPtr(p.RideID), p.At)
	if errors.Is(err, repository.ErrInsufficientBalance) {
		return nil, apperrors.InsufficientBalance()
	}
	return entry, err
}

// refundFee credits back whatever fee the assigned driver paid for ride.
func refundFee(ctx context.Context, tx repository.Tx, ride *models.Ride, at time.Time) (*models.LedgerEntry, error) {
	if ride.DriverID == nil || !ride.PlatformFee.Valid || !ride.PlatformFee.Decimal.IsPositive() {
		return nil, nil
	}
	return appendEntry(ctx, tx.Ledger(), *ride.DriverID, models.EntryTypeCredit, models.ReasonRefund,
		ride.PlatformFee.Decimal, strPtr(ride.ID), at)
}

func newHandoffCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func codesMatch(stored *string, given string) bool {
	if stored == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(given)) == 1
}

func observe(operation string, err error) {
	switch {
	case err == nil:
		observability.RecordTransition(operation, observability.OutcomeOK, "")
	case apperrors.IsGuardFailed(err):
		observability.RecordTransition(operation, observability.OutcomeGuardFailed, apperrors.ReasonOf(err))
	default:
		observability.RecordTransition(operation, observability.OutcomeError, "")
	}
}

// storeError passes domain errors through and wraps everything else as an
// upstream failure.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Upstream("store", err)
}
