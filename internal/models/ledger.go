package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry types
const (
	EntryTypeCredit = "credit"
	EntryTypeDebit  = "debit"
)

// Ledger entry reasons
const (
	ReasonPlatformFee = "platform_fee"
	ReasonRefund      = "refund"
	ReasonRecharge    = "recharge"
	ReasonAdjustment  = "adjustment"
)

// LedgerEntry is an immutable financial event for a driver. BalanceAfter is
// the wallet balance right after this entry was applied.
type LedgerEntry struct {
	ID           string          `db:"id" json:"id"`
	DriverID     string          `db:"driver_id" json:"driver_id"`
	Type         string          `db:"type" json:"type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Reason       string          `db:"reason" json:"reason"`
	RefID        *string         `db:"ref_id" json:"ref_id,omitempty"`
	Note         *string         `db:"note" json:"note,omitempty"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Wallet is the materialized balance row kept in step with the ledger.
type Wallet struct {
	DriverID  string          `db:"driver_id" json:"driver_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// LedgerSums holds the per-type totals over a driver's ledger.
type LedgerSums struct {
	Credits decimal.Decimal `db:"credits" json:"credits"`
	Debits  decimal.Decimal `db:"debits" json:"debits"`
}

func (s LedgerSums) Balance() decimal.Decimal {
	return s.Credits.Sub(s.Debits)
}

type BalanceResponse struct {
	DriverID string          `json:"driver_id"`
	Balance  decimal.Decimal `json:"balance"`
}

type LedgerPage struct {
	Entries  []*LedgerEntry `json:"entries"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type AdjustWalletRequest struct {
	Amount float64 `json:"amount" validate:"gt=0,lte=100000"`
	Note   string  `json:"note" validate:"required,max=255"`
}

// Reconciliation compares the materialized balance with the ledger sums.
type Reconciliation struct {
	DriverID     string          `json:"driver_id"`
	Materialized decimal.Decimal `json:"materialized"`
	Derived      decimal.Decimal `json:"derived"`
	Consistent   bool            `json:"consistent"`
}

type RechargeRequest struct {
	Amount float64 `json:"amount" validate:"gt=0,lte=5000"`
}
