package memstore

import (
	"context"
	"fmt"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/shopspring/decimal"
)

type ledgerRepo struct {
	run runner
}

func (r *ledgerRepo) Append(ctx context.Context, entry *models.LedgerEntry) (decimal.Decimal, error) {
	if entry.ID == "" {
		entry.ID = utils.GenerateID()
	}
	var balance decimal.Decimal
	err := r.run(func(d *state) error {
		cur := d.wallets[entry.DriverID]
		switch entry.Type {
		case models.EntryTypeCredit:
			balance = cur.Add(entry.Amount)
		case models.EntryTypeDebit:
			if cur.LessThan(entry.Amount) {
				return repository.ErrInsufficientBalance
			}
			balance = cur.Sub(entry.Amount)
		default:
			return fmt.Errorf("unknown ledger entry type: %s", entry.Type)
		}
		if entry.Reason == models.ReasonRecharge && entry.RefID != nil &&
			hasRef(d, entry.DriverID, models.ReasonRecharge, *entry.RefID) {
			return repository.ErrDuplicateRef
		}

		entry.BalanceAfter = balance
		stored := *entry
		d.ledger = append(d.ledger, &stored)
		d.wallets[entry.DriverID] = balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (r *ledgerRepo) Balance(ctx context.Context, driverID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.run(func(d *state) error {
		balance = d.wallets[driverID]
		return nil
	})
	return balance, err
}

func (r *ledgerRepo) List(ctx context.Context, driverID string, limit, offset int) ([]*models.LedgerEntry, error) {
	out := []*models.LedgerEntry{}
	err := r.run(func(d *state) error {
		skipped := 0
		for i := len(d.ledger) - 1; i >= 0 && len(out) < limit; i-- {
			e := d.ledger[i]
			if e.DriverID != driverID {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			c := *e
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) Sums(ctx context.Context, driverID string) (models.LedgerSums, error) {
	sums := models.LedgerSums{Credits: decimal.Zero, Debits: decimal.Zero}
	err := r.run(func(d *state) error {
		for _, e := range d.ledger {
			if e.DriverID != driverID {
				continue
			}
			if e.Type == models.EntryTypeCredit {
				sums.Credits = sums.Credits.Add(e.Amount)
			} else {
				sums.Debits = sums.Debits.Add(e.Amount)
			}
		}
		return nil
	})
	return sums, err
}

func (r *ledgerRepo) ExistsByRef(ctx context.Context, driverID, reason, refID string) (bool, error) {
	var exists bool
	err := r.run(func(d *state) error {
		exists = hasRef(d, driverID, reason, refID)
		return nil
	})
	return exists, err
}

func hasRef(d *state, driverID, reason, refID string) bool {
	for _, e := range d.ledger {
		if e.DriverID == driverID && e.Reason == reason && e.RefID != nil && *e.RefID == refID {
			return true
		}
	}
	return false
}
