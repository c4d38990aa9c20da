// Package repo provides the transactional persistence layer. Stock is only
// ever mutated through a Tx that also writes the order (reservation) or the
// status change (release), so a committed transaction is the unit of
// consistency for the whole order flow.
package repo

import (
	"context"
	"time"

	"commerce-backend/internal/domain"
)

// Store is the read surface plus the transaction boundary.
type Store interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, bool, error)
	ListProducts(ctx context.Context, page, limit int) ([]domain.Product, int, error)
	PutProduct(ctx context.Context, p *domain.Product) error

	GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error)
	PutCustomer(ctx context.Context, c *domain.Customer) error

	GetOrder(ctx context.Context, id string) (*domain.Order, bool, error)
	ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error)

	GetPayment(ctx context.Context, id string) (*domain.Payment, bool, error)
	GetPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, bool, error)
	GetPaymentByPreferenceID(ctx context.Context, preferenceID string) (*domain.Payment, bool, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)

	// WithTx runs fn inside one transaction. Any error from fn aborts the
	// transaction; partial writes are never observable.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the session-bound writes. GetProductForUpdate and
// GetOrderForUpdate lock the row for the remainder of the transaction so
// concurrent reservations of the same product serialize.
type Tx interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error)

	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, bool, error)
	// AdjustStock adds delta to the product's stock. It fails rather than
	// drive stock negative.
	AdjustStock(ctx context.Context, id string, delta int) error

	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, bool, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, notes string, updatedAt time.Time) error

	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, bool, error)
	GetPaymentByExternalReferenceForUpdate(ctx context.Context, ref string) (*domain.Payment, bool, error)
	GetPaymentForUpdate(ctx context.Context, id string) (*domain.Payment, bool, error)
	InsertPayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error
}
