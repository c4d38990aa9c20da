package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"commerce-backend/internal/domain"
)

// MemoryStore backs dev mode and tests. Transactions run one at a time under
// the store mutex against a snapshot of every table; commit swaps the
// snapshot in, an error discards it, so rollback is total by construction.
type MemoryStore struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	customers map[string]domain.Customer
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  map[string]domain.Product{},
		customers: map[string]domain.Customer{},
		orders:    map[string]domain.Order{},
		payments:  map[string]domain.Payment{},
	}
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*domain.Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, false, nil
	}
	cp := p
	return &cp, true, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, page, limit int) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	out, total := paginate(all, page, limit)
	return out, total, nil
}

func (s *MemoryStore) PutProduct(ctx context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = *p
	return nil
}

// DeleteProduct removes a product outright. Not part of Store; exists so dev
// tooling and tests can exercise the deleted-product release path.
func (s *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, false, nil
	}
	cp := c
	return &cp, true, nil
}

func (s *MemoryStore) PutCustomer(ctx context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false, nil
	}
	cp := cloneOrder(o)
	return &cp, true, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		all = append(all, cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	out, total := paginate(all, page, limit)
	return out, total, nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, id string) (*domain.Payment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, false, nil
	}
	cp := clonePayment(p)
	return &cp, true, nil
}

func (s *MemoryStore) GetPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ExternalReference == ref {
			cp := clonePayment(p)
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *MemoryStore) GetPaymentByPreferenceID(ctx context.Context, preferenceID string) (*domain.Payment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.PreferenceID == preferenceID {
			cp := clonePayment(p)
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *MemoryStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		products:  cloneMap(s.products),
		customers: cloneMap(s.customers),
		orders:    cloneMap(s.orders),
		payments:  cloneMap(s.payments),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.products = tx.products
	s.customers = tx.customers
	s.orders = tx.orders
	s.payments = tx.payments
	return nil
}

type memTx struct {
	products  map[string]domain.Product
	customers map[string]domain.Customer
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
}

func (t *memTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error) {
	c, ok := t.customers[id]
	if !ok {
		return nil, false, nil
	}
	cp := c
	return &cp, true, nil
}

func (t *memTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, bool, error) {
	p, ok := t.products[id]
	if !ok {
		return nil, false, nil
	}
	cp := p
	return &cp, true, nil
}

func (t *memTx) AdjustStock(ctx context.Context, id string, delta int) error {
	p, ok := t.products[id]
	if !ok {
		return domain.NotFoundf("product %s not found", id)
	}
	if p.Stock+delta < 0 {
		return domain.InsufficientStockf("insufficient stock for product %s", id)
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	t.products[id] = p
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if _, exists := t.orders[o.ID]; exists {
		return domain.Conflictf("order %s already exists", o.ID)
	}
	t.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, bool, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, false, nil
	}
	cp := cloneOrder(o)
	return &cp, true, nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, notes string, updatedAt time.Time) error {
	o, ok := t.orders[id]
	if !ok {
		return domain.NotFoundf("order %s not found", id)
	}
	o.Status = status
	if notes != "" {
		o.Notes = notes
	}
	o.UpdatedAt = updatedAt
	t.orders[id] = o
	return nil
}

func (t *memTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	for _, p := range t.payments {
		if p.IdempotencyKey == key {
			cp := clonePayment(p)
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (t *memTx) GetPaymentByExternalReferenceForUpdate(ctx context.Context, ref string) (*domain.Payment, bool, error) {
	for _, p := range t.payments {
		if p.ExternalReference == ref {
			cp := clonePayment(p)
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (t *memTx) GetPaymentForUpdate(ctx context.Context, id string) (*domain.Payment, bool, error) {
	p, ok := t.payments[id]
	if !ok {
		return nil, false, nil
	}
	cp := clonePayment(p)
	return &cp, true, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	if _, exists := t.payments[p.ID]; exists {
		return domain.Conflictf("payment %s already exists", p.ID)
	}
	for _, q := range t.payments {
		if q.ExternalReference == p.ExternalReference {
			return domain.Conflictf("payment with external reference %s already exists", p.ExternalReference)
		}
		if p.IdempotencyKey != "" && q.IdempotencyKey == p.IdempotencyKey {
			return domain.Conflictf("payment with idempotency key %s already exists", p.IdempotencyKey)
		}
		if p.PreferenceID != "" && q.PreferenceID == p.PreferenceID {
			return domain.Conflictf("payment with preference %s already exists", p.PreferenceID)
		}
	}
	t.payments[p.ID] = clonePayment(*p)
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := t.payments[p.ID]; !ok {
		return domain.NotFoundf("payment %s not found", p.ID)
	}
	t.payments[p.ID] = clonePayment(*p)
	return nil
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	cp := o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return cp
}

func clonePayment(p domain.Payment) domain.Payment {
	cp := p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func paginate[T any](all []T, page, limit int) ([]T, int) {
	total := len(all)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total
}
