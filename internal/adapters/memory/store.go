// internal/adapters/memory/store.go
package memory

import (
	"context"
	"sync"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/google/uuid"
)

type sequenceKey struct {
	txType  domain.TransactionType
	dateKey string
}

type data struct {
	products  map[uuid.UUID]domain.Product
	customers map[uuid.UUID]domain.Customer
	lots      map[uuid.UUID]domain.StockLot
	sales     map[string]domain.Sale
	sequences map[sequenceKey]int64
	demands   map[string]domain.Demand
	movements []domain.StockMovement
}

func newData() *data {
	return &data{
		products:  make(map[uuid.UUID]domain.Product),
		customers: make(map[uuid.UUID]domain.Customer),
		lots:      make(map[uuid.UUID]domain.StockLot),
		sales:     make(map[string]domain.Sale),
		sequences: make(map[sequenceKey]int64),
		demands:   make(map[string]domain.Demand),
	}
}

// clone copies the maps. Entries are values whose nested slices are never
// mutated in place, so sharing them between snapshots is safe.
func (d *data) clone() *data {
	c := &data{
		products:  make(map[uuid.UUID]domain.Product, len(d.products)),
		customers: make(map[uuid.UUID]domain.Customer, len(d.customers)),
		lots:      make(map[uuid.UUID]domain.StockLot, len(d.lots)),
		sales:     make(map[string]domain.Sale, len(d.sales)),
		sequences: make(map[sequenceKey]int64, len(d.sequences)),
		demands:   make(map[string]domain.Demand, len(d.demands)),
		movements: append([]domain.StockMovement(nil), d.movements...),
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.lots {
		c.lots[k] = v
	}
	for k, v := range d.sales {
		c.sales[k] = v
	}
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	for k, v := range d.demands {
		c.demands[k] = v
	}
	return c
}

// Store is an in-process ledger store. A single mutex serialises every
// operation, and RunInTx holds it for the whole closure, restoring a snapshot
// when the closure fails.
type Store struct {
	mu   *sync.Mutex
	data *data
	// held is set on transaction views whose caller already owns mu.
	held bool
}

// Statically assert that *Store implements the Store interface.
var _ ports.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, data: newData()}
}

func (s *Store) lock() func() {
	if s.held {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Lots() ports.LotRepository { return lotRepo{s} }
func (s *Store) Sales() ports.SaleRepository { return saleRepo{s} }
func (s *Store) Customers() ports.CustomerRepository { return customerRepo{s} }
func (s *Store) Products() ports.ProductRepository { return productRepo{s} }
func (s *Store) Sequences() ports.SequenceRepository { return sequenceRepo{s} }
func (s *Store) Demands() ports.DemandRepository { return demandRepo{s} }
func (s *Store) Movements() ports.MovementRepository { return movementRepo{s} }

// RunInTx runs fn with exclusive access to the store.
func (s *Store) RunInTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.held {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, held: true}

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				*s.data = *snapshot
				panic(p)
			}
		}()
		err = fn(tx)
	}()
	if err != nil {
		*s.data = *snapshot
	}
	return err
}
