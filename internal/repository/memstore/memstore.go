// Package memstore is an in-process repository.Store. Every transaction
// works on a private copy of the data and swaps it in on commit, so a failed
// transaction leaves nothing behind. It backs STORE_DRIVER=memory and the
// service tests.
package memstore

import (
	"context"
	"sync"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/shopspring/decimal"
)

type state struct {
	rides   map[string]*models.Ride
	offers  map[string]*models.CounterOffer
	ledger  []*models.LedgerEntry
	wallets map[string]decimal.Decimal
	drivers map[string]*models.Driver
	bairros map[string]*models.Bairro
	windows []models.SurgeWindow
	catalog map[string]*models.CatalogItem
}

func newState() *state {
	return &state{
		rides:   map[string]*models.Ride{},
		offers:  map[string]*models.CounterOffer{},
		wallets: map[string]decimal.Decimal{},
		drivers: map[string]*models.Driver{},
		bairros: map[string]*models.Bairro{},
		catalog: map[string]*models.CatalogItem{},
	}
}

// clone copies the maps. Stored values are never mutated in place, only
// replaced, so the pointers can be shared.
func (s *state) clone() *state {
	c := &state{
		rides:   make(map[string]*models.Ride, len(s.rides)),
		offers:  make(map[string]*models.CounterOffer, len(s.offers)),
		ledger:  append([]*models.LedgerEntry(nil), s.ledger...),
		wallets: make(map[string]decimal.Decimal, len(s.wallets)),
		drivers: make(map[string]*models.Driver, len(s.drivers)),
		bairros: make(map[string]*models.Bairro, len(s.bairros)),
		windows: append([]models.SurgeWindow(nil), s.windows...),
		catalog: make(map[string]*models.CatalogItem, len(s.catalog)),
	}
	for k, v := range s.rides {
		c.rides[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.drivers {
		c.drivers[k] = v
	}
	for k, v := range s.bairros {
		c.bairros[k] = v
	}
	for k, v := range s.catalog {
		c.catalog[k] = v
	}
	return c
}

type runner func(fn func(d *state) error) error

type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) direct(fn func(d *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) Rides() repository.RideRepository { return &rideRepo{run: s.direct} }
func (s *Store) CounterOffers() repository.CounterOfferRepository {
	return &counterOfferRepo{run: s.direct}
}
func (s *Store) Ledger() repository.LedgerRepository   { return &ledgerRepo{run: s.direct} }
func (s *Store) Drivers() repository.DriverRepository  { return &driverRepo{run: s.direct} }
func (s *Store) Bairros() repository.BairroRepository  { return &bairroRepo{run: s.direct} }
func (s *Store) Catalog() repository.CatalogRepository { return &catalogRepo{run: s.direct} }

// WithinTx serializes transactions on the store mutex. Repositories obtained
// from the Store itself must not be used inside fn.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&txRepos{run: func(f func(d *state) error) error { return f(work) }}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return ctx.Err()
}

type txRepos struct {
	run runner
}

func (t *txRepos) Rides() repository.RideRepository { return &rideRepo{run: t.run} }
func (t *txRepos) CounterOffers() repository.CounterOfferRepository {
	return &counterOfferRepo{run: t.run}
}
func (t *txRepos) Ledger() repository.LedgerRepository  { return &ledgerRepo{run: t.run} }
func (t *txRepos) Drivers() repository.DriverRepository { return &driverRepo{run: t.run} }

var _ repository.Store = (*Store)(nil)
