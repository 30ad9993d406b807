// internal/adapters/memory/repositories.go
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func copyLot(l domain.StockLot) *domain.StockLot {
	if l.ExpiryDate != nil {
		expiry := *l.ExpiryDate
		l.ExpiryDate = &expiry
	}
	return &l
}

func copySale(s domain.Sale) *domain.Sale {
	lines := make([]domain.SaleLine, len(s.Lines))
	for i, line := range s.Lines {
		line.Allocations = append([]domain.Allocation(nil), line.Allocations...)
		lines[i] = line
	}
	s.Lines = lines
	s.Payments = append([]domain.Payment{}, s.Payments...)
	returns := make([]domain.Return, len(s.Returns))
	for i, r := range s.Returns {
		r.Items = append([]domain.ReturnItem(nil), r.Items...)
		returns[i] = r
	}
	s.Returns = returns
	if s.CustomerID != nil {
		id := *s.CustomerID
		s.CustomerID = &id
	}
	return &s
}

func copyDemand(d domain.Demand) *domain.Demand {
	if d.Location != nil {
		loc := *d.Location
		d.Location = &loc
	}
	return &d
}

func sortLots(lots []*domain.StockLot) {
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].ReceivedBefore(lots[j]) })
}

type lotRepo struct{ s *Store }

func (r lotRepo) Create(_ context.Context, lot *domain.StockLot) error {
	defer r.s.lock()()
	if _, ok := r.s.data.products[lot.ProductID]; !ok {
		return domain.NewNotFoundError("product", lot.ProductID)
	}
	r.s.data.lots[lot.ID] = *copyLot(*lot)
	return nil
}

func (r lotRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.StockLot, error) {
	defer r.s.lock()()
	lot, ok := r.s.data.lots[id]
	if !ok {
		return nil, nil
	}
	return copyLot(lot), nil
}

func (r lotRepo) ListAvailable(_ context.Context, productID uuid.UUID, loc domain.Location) ([]*domain.StockLot, error) {
	defer r.s.lock()()
	var out []*domain.StockLot
	for _, lot := range r.s.data.lots {
		if lot.ProductID == productID && lot.Location == loc && lot.Quantity > 0 {
			out = append(out, copyLot(lot))
		}
	}
	sortLots(out)
	return out, nil
}

func (r lotRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*domain.StockLot, error) {
	defer r.s.lock()()
	seen := make(map[uuid.UUID]bool, len(ids))
	var out []*domain.StockLot
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if lot, ok := r.s.data.lots[id]; ok {
			out = append(out, copyLot(lot))
		}
	}
	sortLots(out)
	return out, nil
}

func (r lotRepo) FindByBatch(_ context.Context, productID uuid.UUID, loc domain.Location, batch string) (*domain.StockLot, error) {
	defer r.s.lock()()
	var matches []*domain.StockLot
	for _, lot := range r.s.data.lots {
		if lot.MatchesBatch(productID, loc, batch) {
			matches = append(matches, copyLot(lot))
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sortLots(matches)
	return matches[0], nil
}

func (r lotRepo) Decrement(_ context.Context, id uuid.UUID, qty int) error {
	defer r.s.lock()()
	lot, ok := r.s.data.lots[id]
	if !ok {
		return domain.NewNotFoundError("stock lot", id)
	}
	if lot.Quantity < qty {
		return domain.ErrConflict
	}
	lot.Quantity -= qty
	lot.UpdatedAt = time.Now()
	r.s.data.lots[id] = lot
	return nil
}

func (r lotRepo) Increment(_ context.Context, id uuid.UUID, qty int) error {
	defer r.s.lock()()
	lot, ok := r.s.data.lots[id]
	if !ok {
		return domain.NewNotFoundError("stock lot", id)
	}
	lot.Quantity += qty
	lot.UpdatedAt = time.Now()
	r.s.data.lots[id] = lot
	return nil
}

func (r lotRepo) StockOnHand(_ context.Context, productID uuid.UUID, loc *domain.Location) (int, error) {
	defer r.s.lock()()
	total := 0
	for _, lot := range r.s.data.lots {
		if lot.ProductID != productID {
			continue
		}
		if loc != nil && lot.Location != *loc {
			continue
		}
		total += lot.Quantity
	}
	return total, nil
}

func (r lotRepo) List(_ context.Context, filter ports.LotFilter) ([]*domain.StockLot, error) {
	defer r.s.lock()()
	var out []*domain.StockLot
	for _, lot := range r.s.data.lots {
		if filter.ProductID != nil && lot.ProductID != *filter.ProductID {
			continue
		}
		if filter.Location != nil && lot.Location != *filter.Location {
			continue
		}
		if filter.BatchNumber != nil && lot.BatchNumber != *filter.BatchNumber {
			continue
		}
		if filter.InStockOnly && lot.Quantity == 0 {
			continue
		}
		out = append(out, copyLot(lot))
	}
	sortLots(out)
	return page(out, filter.Offset, filter.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type saleRepo struct{ s *Store }

func (r saleRepo) Create(_ context.Context, sale *domain.Sale) error {
	defer r.s.lock()()
	if _, exists := r.s.data.sales[sale.ID]; exists {
		return domain.ErrConflict
	}
	r.s.data.sales[sale.ID] = *copySale(*sale)
	return nil
}

func (r saleRepo) FindByID(_ context.Context, id string) (*domain.Sale, error) {
	defer r.s.lock()()
	sale, ok := r.s.data.sales[id]
	if !ok {
		return nil, nil
	}
	return copySale(sale), nil
}

func (r saleRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return r.FindByID(ctx, id)
}

func (r saleRepo) AppendReturn(_ context.Context, saleID string, ret domain.Return) error {
	defer r.s.lock()()
	sale, ok := r.s.data.sales[saleID]
	if !ok {
		return domain.NewNotFoundError("sale", saleID)
	}
	updated := copySale(sale)
	ret.Items = append([]domain.ReturnItem(nil), ret.Items...)
	updated.Returns = append(updated.Returns, ret)
	updated.UpdatedAt = ret.CreatedAt
	r.s.data.sales[saleID] = *updated
	return nil
}

func (r saleRepo) ListSince(_ context.Context, since time.Time, loc *domain.Location) ([]*domain.Sale, error) {
	defer r.s.lock()()
	var out []*domain.Sale
	for _, sale := range r.s.data.sales {
		if sale.CreatedAt.Before(since) {
			continue
		}
		if loc != nil && sale.Location != *loc {
			continue
		}
		out = append(out, copySale(sale))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type customerRepo struct{ s *Store }

func (r customerRepo) Create(_ context.Context, c *domain.Customer) error {
	defer r.s.lock()()
	r.s.data.customers[c.ID] = *c
	return nil
}

func (r customerRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Customer, error) {
	defer r.s.lock()()
	c, ok := r.s.data.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r customerRepo) RecordPurchase(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	defer r.s.lock()()
	c, ok := r.s.data.customers[id]
	if !ok {
		return domain.NewNotFoundError("customer", id)
	}
	c.TotalOrders++
	c.TotalSpent = c.TotalSpent.Add(amount)
	c.UpdatedAt = time.Now()
	r.s.data.customers[id] = c
	return nil
}

type productRepo struct{ s *Store }

func (r productRepo) Create(_ context.Context, p *domain.Product) error {
	defer r.s.lock()()
	r.s.data.products[p.ID] = *p
	return nil
}

func (r productRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	defer r.s.lock()()
	p, ok := r.s.data.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type sequenceRepo struct{ s *Store }

func (r sequenceRepo) Next(_ context.Context, txType domain.TransactionType, dateKey string) (int64, error) {
	defer r.s.lock()()
	key := sequenceKey{txType: txType, dateKey: dateKey}
	r.s.data.sequences[key]++
	return r.s.data.sequences[key], nil
}

type demandRepo struct{ s *Store }

func (r demandRepo) CreateBatch(_ context.Context, demands []*domain.Demand) error {
	defer r.s.lock()()
	for _, d := range demands {
		if _, exists := r.s.data.demands[d.ID]; exists {
			return domain.ErrConflict
		}
	}
	for _, d := range demands {
		r.s.data.demands[d.ID] = *copyDemand(*d)
	}
	return nil
}

func (r demandRepo) FindByID(_ context.Context, id string) (*domain.Demand, error) {
	defer r.s.lock()()
	d, ok := r.s.data.demands[id]
	if !ok {
		return nil, nil
	}
	return copyDemand(d), nil
}

func (r demandRepo) List(_ context.Context, filter ports.DemandFilter) ([]*domain.Demand, error) {
	defer r.s.lock()()
	var out []*domain.Demand
	for _, d := range r.s.data.demands {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.ProductID != nil && d.ProductID != *filter.ProductID {
			continue
		}
		if filter.Algorithm != nil && d.Algorithm != *filter.Algorithm {
			continue
		}
		out = append(out, copyDemand(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (r demandRepo) UpdateStatus(_ context.Context, id string, from, to domain.DemandStatus, at time.Time) error {
	defer r.s.lock()()
	d, ok := r.s.data.demands[id]
	if !ok {
		return domain.NewNotFoundError("demand", id)
	}
	if d.Status != from {
		return domain.ErrConflict
	}
	d.Status = to
	d.UpdatedAt = at
	r.s.data.demands[id] = d
	return nil
}

func (r demandRepo) ExpirePending(_ context.Context, cutoff, at time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, d := range r.s.data.demands {
		if d.Status == domain.DemandPending && d.CreatedAt.Before(cutoff) {
			d.Status = domain.DemandExpired
			d.UpdatedAt = at
			r.s.data.demands[id] = d
			n++
		}
	}
	return n, nil
}

type movementRepo struct{ s *Store }

func (r movementRepo) Record(_ context.Context, movements ...*domain.StockMovement) error {
	defer r.s.lock()()
	for _, m := range movements {
		r.s.data.movements = append(r.s.data.movements, *m)
	}
	return nil
}

func (r movementRepo) ListByLot(_ context.Context, lotID uuid.UUID) ([]*domain.StockMovement, error) {
	defer r.s.lock()()
	var out []*domain.StockMovement
	for _, m := range r.s.data.movements {
		if m.LotID == lotID {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}
