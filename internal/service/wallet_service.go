package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/internal/events"
	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type RechargeResult struct {
	Applied bool            `json:"applied"`
	Balance decimal.Decimal `json:"balance"`
}

type WalletService interface {
	Credit(ctx context.Context, driverID string, amount decimal.Decimal, reason string, refID *string) (decimal.Decimal, error)
	Debit(ctx context.Context, driverID string, amount decimal.Decimal, reason string, refID *string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, driverID string) (*models.BalanceResponse, error)
	ListEntries(ctx context.Context, driverID string, page, pageSize int) (*models.LedgerPage, error)
	Adjust(ctx context.Context, driverID string, amount decimal.Decimal, note string) (*models.LedgerEntry, error)
	ApplyRecharge(ctx context.Context, driverID string, amount decimal.Decimal, paymentRef string) (*RechargeResult, error)
	Reconcile(ctx context.Context, driverID string) (*models.Reconciliation, error)
}

type walletService struct {
	store repository.Store
	notifier
}

func NewWalletService(store repository.Store, pub events.Publisher, logger *slog.Logger, now func() time.Time) WalletService {
	if now == nil {
		now = time.Now
	}
	return &walletService{
		store:    store,
		notifier: notifier{pub: pub, logger: logger, now: now},
	}
}

func (s *walletService) Credit(ctx context.Context, driverID string, amount decimal.Decimal, reason string, refID *string) (decimal.Decimal, error) {
	entry, err := s.post(ctx, driverID, models.EntryTypeCredit, reason, amount, refID, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return entry.BalanceAfter, nil
}

func (s *walletService) Debit(ctx context.Context, driverID string, amount decimal.Decimal, reason string, refID *string) (decimal.Decimal, error) {
	entry, err := s.post(ctx, driverID, models.EntryTypeDebit, reason, amount, refID, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return entry.BalanceAfter, nil
}

func (s *walletService) GetBalance(ctx context.Context, driverID string) (*models.BalanceResponse, error) {
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}
	balance, err := s.store.Ledger().Balance(ctx, driverID)
	if err != nil {
		return nil, apperrors.Upstream("ledger", err)
	}
	return &models.BalanceResponse{DriverID: driverID, Balance: balance}, nil
}

func (s *walletService) ListEntries(ctx context.Context, driverID string, page, pageSize int) (*models.LedgerPage, error) {
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}
	page, pageSize = normalizePage(page, pageSize)
	entries, err := s.store.Ledger().List(ctx, driverID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.Upstream("ledger", err)
	}
	return &models.LedgerPage{Entries: entries, Page: page, PageSize: pageSize}, nil
}

// Adjust posts an administrative credit.
func (s *walletService) Adjust(ctx context.Context, driverID string, amount decimal.Decimal, note string) (*models.LedgerEntry, error) {
	return s.post(ctx, driverID, models.EntryTypeCredit, models.ReasonAdjustment, amount, nil, &note)
}

// ApplyRecharge credits a confirmed top-up once per payment reference.
// Replays report Applied=false with the current balance.
func (s *walletService) ApplyRecharge(ctx context.Context, driverID string, amount decimal.Decimal, paymentRef string) (*RechargeResult, error) {
	if paymentRef == "" {
		return nil, apperrors.Validation("payment reference is required")
	}

	seen, err := s.store.Ledger().ExistsByRef(ctx, driverID, models.ReasonRecharge, paymentRef)
	if err != nil {
		return nil, apperrors.Upstream("ledger", err)
	}
	if !seen {
		entry, err := s.post(ctx, driverID, models.EntryTypeCredit, models.ReasonRecharge, amount, &paymentRef, nil)
		if err == nil {
			return &RechargeResult{Applied: true, Balance: entry.BalanceAfter}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateRef) {
			return nil, err
		}
	}

	s.logger.Info("recharge already applied", "driver_id", driverID, "payment_ref", paymentRef)
	balance, err := s.store.Ledger().Balance(ctx, driverID)
	if err != nil {
		return nil, apperrors.Upstream("ledger", err)
	}
	return &RechargeResult{Applied: false, Balance: balance}, nil
}

// Reconcile compares the materialized balance with the ledger sums.
func (s *walletService) Reconcile(ctx context.Context, driverID string) (*models.Reconciliation, error) {
	var rec *models.Reconciliation
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		balance, err := tx.Ledger().Balance(ctx, driverID)
		if err != nil {
			return err
		}
		sums, err := tx.Ledger().Sums(ctx, driverID)
		if err != nil {
			return err
		}
		derived := sums.Balance()
		rec = &models.Reconciliation{
			DriverID:     driverID,
			Materialized: balance,
			Derived:      derived,
			Consistent:   balance.Equal(derived),
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Upstream("ledger", err)
	}
	if !rec.Consistent {
		s.logger.Error("wallet out of step with ledger",
			"driver_id", driverID,
			"materialized", rec.Materialized.String(),
			"derived", rec.Derived.String(),
		)
	}
	return rec, nil
}

func (s *walletService) post(
	ctx context.Context,
	driverID, entryType, reason string,
	amount decimal.Decimal,
	refID, note *string,
) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, apperrors.Validation("amount must be positive")
	}
	if !validReason(reason) {
		return nil, apperrors.Validation("unknown ledger reason: " + reason)
	}
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		DriverID:  driverID,
		Type:      entryType,
		Amount:    amount.Round(2),
		Reason:    reason,
		RefID:     refID,
		Note:      note,
		CreatedAt: s.now(),
	}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		_, err := tx.Ledger().Append(ctx, entry)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		return nil, apperrors.InsufficientBalance()
	case errors.Is(err, repository.ErrDuplicateRef):
		return nil, err
	case err != nil:
		return nil, apperrors.Upstream("ledger", err)
	}

	recordEntries(entry)
	s.publish(ctx, walletEvent(entry))
	return entry, nil
}

func (s *walletService) requireDriver(ctx context.Context, driverID string) error {
	driver, err := s.store.Drivers().GetByID(ctx, driverID)
	if err != nil {
		return apperrors.Upstream("driver store", err)
	}
	if driver == nil {
		return apperrors.NotFound("driver")
	}
	return nil
}

func validReason(reason string) bool {
	switch reason {
	case models.ReasonPlatformFee, models.ReasonRefund, models.ReasonRecharge, models.ReasonAdjustment:
		return true
	}
	return false
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
