package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderLine is immutable once the order is created. Cancellation restores
// stock and flips the order status; it never rewrites lines.
type OrderLine struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"` // tax-inclusive, as charged
	Subtotal    float64 `json:"subtotal"`  // quantity * unitPrice, rounded to cents
}

type Order struct {
	ID             string      `json:"id"`
	CustomerID     string      `json:"customerId"`
	Lines          []OrderLine `json:"lines"`
	Subtotal       float64     `json:"subtotal"` // tax-inclusive sum of line subtotals
	TaxAmount      float64     `json:"taxAmount"`
	DiscountRate   float64     `json:"discountRate"` // percent, 0-100
	DiscountAmount float64     `json:"discountAmount"`
	Total          float64     `json:"total"`
	Status         OrderStatus `json:"status"`
	Notes          string      `json:"notes"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// StatusGraph defines which status transitions are legal. The default graph
// covers the simple pending/completed/cancelled model; richer graphs can be
// built with NewStatusGraph and fed to the order service.
type StatusGraph struct {
	initial OrderStatus
	edges   map[OrderStatus][]OrderStatus
}

func NewStatusGraph(initial OrderStatus, edges map[OrderStatus][]OrderStatus) *StatusGraph {
	return &StatusGraph{initial: initial, edges: edges}
}

func DefaultStatusGraph() *StatusGraph {
	return NewStatusGraph(OrderPending, map[OrderStatus][]OrderStatus{
		OrderPending:   {OrderCompleted, OrderCancelled},
		OrderCompleted: {OrderCancelled},
	})
}

func (g *StatusGraph) Initial() OrderStatus { return g.initial }

func (g *StatusGraph) CanTransition(from, to OrderStatus) bool {
	for _, s := range g.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (g *StatusGraph) Known(s OrderStatus) bool {
	if s == g.initial {
		return true
	}
	for from, tos := range g.edges {
		if s == from {
			return true
		}
		for _, to := range tos {
			if s == to {
				return true
			}
		}
	}
	return false
}

// ReleasesStock reports whether moving from -> to must return reserved stock
// to inventory. Only the entry into cancelled restores stock.
func (g *StatusGraph) ReleasesStock(from, to OrderStatus) bool {
	return to == OrderCancelled && from != OrderCancelled
}
