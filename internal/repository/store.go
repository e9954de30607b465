package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store-level guard violations. Services translate these into API errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDriverBusy          = errors.New("driver already holds an active ride")
	ErrOfferAlreadyPending = errors.New("driver already has a pending offer on this ride")
	ErrDuplicateRef        = errors.New("ledger reference already recorded")
)

// Tx is the set of repositories that take part in a ride transition. Inside
// WithinTx every call shares one transaction.
type Tx interface {
	Rides() RideRepository
	CounterOffers() CounterOfferRepository
	Ledger() LedgerRepository
	Drivers() DriverRepository
}

// Store is the durable store. Outside WithinTx each call runs on its own.
type Store interface {
	Tx
	Bairros() BairroRepository
	Catalog() CatalogRepository
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Health(ctx context.Context) error
}

type repos struct {
	rides   RideRepository
	offers  CounterOfferRepository
	ledger  LedgerRepository
	drivers DriverRepository
}

func newRepos(db sqlx.ExtContext) *repos {
	return &repos{
		rides:   NewRideRepository(db),
		offers:  NewCounterOfferRepository(db),
		ledger:  NewLedgerRepository(db),
		drivers: NewDriverRepository(db),
	}
}

func (r *repos) Rides() RideRepository                 { return r.rides }
func (r *repos) CounterOffers() CounterOfferRepository { return r.offers }
func (r *repos) Ledger() LedgerRepository              { return r.ledger }
func (r *repos) Drivers() DriverRepository             { return r.drivers }

type postgresStore struct {
	*repos
	db      *sqlx.DB
	bairros BairroRepository
	catalog CatalogRepository
}

func NewPostgresStore(db *sqlx.DB) Store {
	return &postgresStore{
		repos:   newRepos(db),
		db:      db,
		bairros: NewBairroRepository(db),
		catalog: NewCatalogRepository(db),
	}
}

func (s *postgresStore) Bairros() BairroRepository  { return s.bairros }
func (s *postgresStore) Catalog() CatalogRepository { return s.catalog }

func (s *postgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(newRepos(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *postgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const uniqueViolation = "23505"

// isUniqueViolation reports whether err came from the named unique index.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == constraint
	}
	return false
}
