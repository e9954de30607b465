package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/carreto/dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LedgerRepository is append-only. The wallet balance row is only ever
// written by Append, in the same statement sequence as the entry.
type LedgerRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) (decimal.Decimal, error)
	Balance(ctx context.Context, driverID string) (decimal.Decimal, error)
	List(ctx context.Context, driverID string, limit, offset int) ([]*models.LedgerEntry, error)
	Sums(ctx context.Context, driverID string) (models.LedgerSums, error)
	ExistsByRef(ctx context.Context, driverID, reason, refID string) (bool, error)
}

type ledgerRepository struct {
	db sqlx.ExtContext
}

func NewLedgerRepository(db sqlx.ExtContext) LedgerRepository {
	return &ledgerRepository{db: db}
}

const rechargeRefIndex = "wallet_ledger_unique_recharge_ref"

// Append applies the entry to the wallet balance and records it. A debit
// that would take the balance below zero fails with ErrInsufficientBalance
// and writes nothing.
func (r *ledgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) (decimal.Decimal, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	var balance decimal.Decimal
	var err error
	switch entry.Type {
	case models.EntryTypeCredit:
		query := `
			INSERT INTO driver_wallets (driver_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (driver_id)
			DO UPDATE SET balance = driver_wallets.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
			RETURNING balance
		`
		err = sqlx.GetContext(ctx, r.db, &balance, query, entry.DriverID, entry.Amount, entry.CreatedAt)
	case models.EntryTypeDebit:
		query := `
			UPDATE driver_wallets SET balance = balance - $2, updated_at = $3
			WHERE driver_id = $1 AND balance >= $2
			RETURNING balance
		`
		err = sqlx.GetContext(ctx, r.db, &balance, query, entry.DriverID, entry.Amount, entry.CreatedAt)
		if err == sql.ErrNoRows {
			return decimal.Zero, ErrInsufficientBalance
		}
	default:
		return decimal.Zero, errors.New("unknown ledger entry type: " + entry.Type)
	}
	if err != nil {
		return decimal.Zero, err
	}

	entry.BalanceAfter = balance
	query := `
		INSERT INTO wallet_ledger (id, driver_id, type, amount, reason, ref_id, note, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.DriverID, entry.Type, entry.Amount, entry.Reason, entry.RefID, entry.Note,
		entry.BalanceAfter, entry.CreatedAt)
	if isUniqueViolation(err, rechargeRefIndex) {
		return decimal.Zero, ErrDuplicateRef
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (r *ledgerRepository) Balance(ctx context.Context, driverID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	query := `SELECT balance FROM driver_wallets WHERE driver_id = $1`
	err := sqlx.GetContext(ctx, r.db, &balance, query, driverID)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	return balance, err
}

// List returns entries newest first.
func (r *ledgerRepository) List(ctx context.Context, driverID string, limit, offset int) ([]*models.LedgerEntry, error) {
	entries := []*models.LedgerEntry{}
	query := `
		SELECT * FROM wallet_ledger
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	err := sqlx.SelectContext(ctx, r.db, &entries, query, driverID, limit, offset)
	return entries, err
}

func (r *ledgerRepository) Sums(ctx context.Context, driverID string) (models.LedgerSums, error) {
	var sums models.LedgerSums
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = $2), 0) AS credits,
			COALESCE(SUM(amount) FILTER (WHERE type = $3), 0) AS debits
		FROM wallet_ledger
		WHERE driver_id = $1
	`
	err := sqlx.GetContext(ctx, r.db, &sums, query, driverID, models.EntryTypeCredit, models.EntryTypeDebit)
	return sums, err
}

func (r *ledgerRepository) ExistsByRef(ctx context.Context, driverID, reason, refID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM wallet_ledger WHERE driver_id = $1 AND reason = $2 AND ref_id = $3
		)
	`
	err := sqlx.GetContext(ctx, r.db, &exists, query, driverID, reason, refID)
	return exists, err
}
