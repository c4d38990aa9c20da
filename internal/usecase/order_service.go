package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"commerce-backend/internal/domain"
	"commerce-backend/internal/infrastructure/repo"
	"commerce-backend/internal/pricing"
)

// LineInput arrives already validated for presence and type by the HTTP
// layer. UnitPrice is the tax-inclusive price locked in at cart time; zero
// means charge the product's current derived price.
type LineInput struct {
	ProductID string
	Quantity  int
	UnitPrice float64
}

type CreateOrderInput struct {
	CustomerID   string
	Lines        []LineInput
	DiscountRate float64
	Notes        string
}

// OrderView is the composed read model returned after a write: the order plus
// its resolved customer. Line product names are snapshotted on the lines
// themselves at creation time.
type OrderView struct {
	Order    domain.Order    `json:"order"`
	Customer domain.Customer `json:"customer"`
}

func NewOrderView(o *domain.Order, c *domain.Customer) OrderView {
	return OrderView{Order: *o, Customer: *c}
}

type OrderService struct {
	Store repo.Store
	Graph *domain.StatusGraph
}

func NewOrderService(store repo.Store, graph *domain.StatusGraph) *OrderService {
	if graph == nil {
		graph = domain.DefaultStatusGraph()
	}
	return &OrderService{Store: store, Graph: graph}
}

// Create runs the whole order-creation attempt in one transaction: customer
// and product validation, stock reservation and order persistence either all
// happen or none of them do.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (OrderView, error) {
	if len(in.Lines) == 0 {
		return OrderView{}, domain.InvalidAmountf("order must contain at least one line")
	}

	var orderID string
	err := s.Store.WithTx(ctx, func(tx repo.Tx) error {
		customer, ok, err := tx.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("customer %s not found", in.CustomerID)
		}

		orderLines := make([]domain.OrderLine, 0, len(in.Lines))
		priceLines := make([]pricing.Line, 0, len(in.Lines))
		for _, l := range in.Lines {
			p, ok, err := tx.GetProductForUpdate(ctx, l.ProductID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NotFoundf("product %s not found", l.ProductID)
			}
			if !p.Active {
				return domain.InvalidStatef("product %s is inactive", p.Name)
			}
			if p.Stock < l.Quantity {
				return domain.InsufficientStockf("insufficient stock for %s: available %d, requested %d",
					p.Name, p.Stock, l.Quantity)
			}
			if err := tx.AdjustStock(ctx, p.ID, -l.Quantity); err != nil {
				return err
			}
			unit := l.UnitPrice
			if unit == 0 {
				unit = pricing.UnitPriceWithTax(p.BasePrice, p.TaxRate)
			}
			orderLines = append(orderLines, domain.OrderLine{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				UnitPrice:   unit,
				Subtotal:    pricing.LineSubtotal(l.Quantity, unit),
			})
			priceLines = append(priceLines, pricing.Line{
				Quantity:         l.Quantity,
				BaseUnitPrice:    p.BasePrice,
				TaxRate:          p.TaxRate,
				UnitPriceWithTax: unit,
			})
		}

		totals, err := pricing.Calculate(priceLines, in.DiscountRate)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		order := &domain.Order{
			ID:             uuid.NewString(),
			CustomerID:     customer.ID,
			Lines:          orderLines,
			Subtotal:       totals.Subtotal,
			TaxAmount:      totals.TaxAmount,
			DiscountRate:   in.DiscountRate,
			DiscountAmount: totals.DiscountAmount,
			Total:          totals.Total,
			Status:         s.Graph.Initial(),
			Notes:          in.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		orderID = order.ID
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}
	return s.Get(ctx, orderID)
}

// UpdateStatus transitions the order through the status graph. Entering
// cancelled releases the reserved stock of every line in the same
// transaction as the status write.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus, notes string) (OrderView, error) {
	if !s.Graph.Known(newStatus) {
		return OrderView{}, domain.InvalidStatef("unknown order status %q", newStatus)
	}
	err := s.Store.WithTx(ctx, func(tx repo.Tx) error {
		return s.TransitionTx(ctx, tx, orderID, newStatus, notes)
	})
	if err != nil {
		return OrderView{}, err
	}
	return s.Get(ctx, orderID)
}

// TransitionTx applies a status transition inside an existing transaction so
// callers (payment reconciliation) can bind it to their own writes.
func (s *OrderService) TransitionTx(ctx context.Context, tx repo.Tx, orderID string, newStatus domain.OrderStatus, notes string) error {
	o, ok, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundf("order %s not found", orderID)
	}
	if o.Status == newStatus {
		return domain.InvalidStatef("order %s already has status %s", orderID, newStatus)
	}
	if !s.Graph.CanTransition(o.Status, newStatus) {
		return domain.InvalidStatef("cannot transition order %s from %s to %s", orderID, o.Status, newStatus)
	}
	if s.Graph.ReleasesStock(o.Status, newStatus) {
		for _, line := range o.Lines {
			_, ok, err := tx.GetProductForUpdate(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if !ok {
				// A deleted product must not fail the cancellation.
				slog.WarnContext(ctx, "product missing during stock release",
					"order_id", orderID, "product_id", line.ProductID, "quantity", line.Quantity)
				continue
			}
			if err := tx.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
	}
	return tx.UpdateOrderStatus(ctx, orderID, newStatus, notes, time.Now().UTC())
}

func (s *OrderService) Get(ctx context.Context, orderID string) (OrderView, error) {
	o, ok, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	if !ok {
		return OrderView{}, domain.NotFoundf("order %s not found", orderID)
	}
	c, ok, err := s.Store.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return OrderView{}, err
	}
	if !ok {
		return OrderView{}, domain.NotFoundf("customer %s not found", o.CustomerID)
	}
	return NewOrderView(o, c), nil
}

func (s *OrderService) List(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	return s.Store.ListOrders(ctx, page, limit)
}
