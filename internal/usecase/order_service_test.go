package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-backend/internal/domain"
	"commerce-backend/internal/infrastructure/repo"
)

func seedStore(t *testing.T) *repo.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, store.PutCustomer(ctx, &domain.Customer{
		ID: "cus-1", Name: "Ana Torres", Email: "ana@example.com", CreatedAt: now,
	}))
	require.NoError(t, store.PutProduct(ctx, &domain.Product{
		ID: "prod-1", Name: "Yerba Mate 1kg", BasePrice: 100, TaxRate: 21, Stock: 2, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.PutProduct(ctx, &domain.Product{
		ID: "prod-2", Name: "Termo Acero", BasePrice: 200, TaxRate: 10.5, Stock: 5, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}))
	return store
}

func productStock(t *testing.T, store repo.Store, id string) int {
	t.Helper()
	p, ok, err := store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return p.Stock
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 2, UnitPrice: 121}},
	})
	require.NoError(t, err)

	o := view.Order
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, 242.0, o.Subtotal)
	assert.Equal(t, 42.0, o.TaxAmount) // from the base price, not the charged price
	assert.Equal(t, 0.0, o.DiscountAmount)
	assert.Equal(t, 242.0, o.Total)
	assert.Equal(t, "Ana Torres", view.Customer.Name)
	assert.Equal(t, "Yerba Mate 1kg", o.Lines[0].ProductName)
	assert.Equal(t, 0, productStock(t, store, "prod-1"))
}

func TestCreateOrderDerivesUnitPrice(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID:   "cus-1",
		Lines:        []LineInput{{ProductID: "prod-2", Quantity: 1}},
		DiscountRate: 10,
	})
	require.NoError(t, err)

	o := view.Order
	assert.Equal(t, 221.0, o.Lines[0].UnitPrice) // 200 * 1.105
	assert.Equal(t, 221.0, o.Subtotal)
	assert.Equal(t, 22.1, o.DiscountAmount)
	assert.Equal(t, 198.9, o.Total)
	assert.Equal(t, o.Subtotal-o.DiscountAmount, o.Total)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	_, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 3}},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Yerba Mate 1kg")
	assert.Contains(t, err.Error(), "available 2")
	assert.Contains(t, err.Error(), "requested 3")

	assert.Equal(t, 2, productStock(t, store, "prod-1"))
	_, total, err := store.ListOrders(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

// A failure on the Nth line must leave every earlier reservation untouched.
func TestCreateOrderRollsBackAllLines(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	_, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines: []LineInput{
			{ProductID: "prod-2", Quantity: 4},
			{ProductID: "prod-1", Quantity: 3}, // only 2 in stock
		},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(err))
	assert.Equal(t, 5, productStock(t, store, "prod-2"))
	assert.Equal(t, 2, productStock(t, store, "prod-1"))
}

func TestCreateOrderInactiveProduct(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	p, _, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	p.Active = false
	require.NoError(t, store.PutProduct(ctx, p))

	svc := NewOrderService(store, nil)
	_, err = svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestCreateOrderUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	svc := NewOrderService(seedStore(t), nil)
	_, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-missing",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	const attempts = 12 // prod-2 has stock 5
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, CreateOrderInput{
				CustomerID: "cus-1",
				Lines:      []LineInput{{ProductID: "prod-2", Quantity: 1}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(err))
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, productStock(t, store, "prod-2"))
}

func TestCancelRestoresStock(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines: []LineInput{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 3},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 0, productStock(t, store, "prod-1"))
	require.Equal(t, 2, productStock(t, store, "prod-2"))

	cancelled, err := svc.UpdateStatus(ctx, view.Order.ID, domain.OrderCancelled, "customer changed their mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Order.Status)
	assert.Equal(t, "customer changed their mind", cancelled.Order.Notes)
	assert.Equal(t, 2, productStock(t, store, "prod-1"))
	assert.Equal(t, 5, productStock(t, store, "prod-2"))
}

func TestCancelCompletedOrderRestoresStock(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, view.Order.ID, domain.OrderCompleted, "")
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, view.Order.ID, domain.OrderCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, 2, productStock(t, store, "prod-1"))
}

func TestCancelToleratesDeletedProduct(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines: []LineInput{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: "prod-2", Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.DeleteProduct(ctx, "prod-1"))

	cancelled, err := svc.UpdateStatus(ctx, view.Order.ID, domain.OrderCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Order.Status)
	assert.Equal(t, 5, productStock(t, store, "prod-2")) // surviving product restored
}

func TestUpdateStatusRejections(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	svc := NewOrderService(store, nil)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := view.Order.ID

	_, err = svc.UpdateStatus(ctx, "order-missing", domain.OrderCancelled, "")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = svc.UpdateStatus(ctx, orderID, domain.OrderPending, "")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	_, err = svc.UpdateStatus(ctx, orderID, "shipped", "")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	_, err = svc.UpdateStatus(ctx, orderID, domain.OrderCancelled, "")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, orderID, domain.OrderCompleted, "")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	// A repeated cancellation must not release stock twice.
	_, err = svc.UpdateStatus(ctx, orderID, domain.OrderCancelled, "")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
	assert.Equal(t, 2, productStock(t, store, "prod-1"))
}

func TestCustomStatusGraph(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	graph := domain.NewStatusGraph("draft", map[domain.OrderStatus][]domain.OrderStatus{
		"draft":               {"awaiting_payment", domain.OrderCancelled},
		"awaiting_payment":    {domain.OrderCompleted, domain.OrderCancelled},
		domain.OrderCompleted: {domain.OrderCancelled},
	})
	svc := NewOrderService(store, graph)

	view, err := svc.Create(ctx, CreateOrderInput{
		CustomerID: "cus-1",
		Lines:      []LineInput{{ProductID: "prod-1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatus("draft"), view.Order.Status)

	_, err = svc.UpdateStatus(ctx, view.Order.ID, domain.OrderCompleted, "")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	_, err = svc.UpdateStatus(ctx, view.Order.ID, "awaiting_payment", "")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, view.Order.ID, domain.OrderCompleted, "")
	require.NoError(t, err)
}
