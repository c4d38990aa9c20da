package domain

import "time"

type PaymentStatus string

// Provider-defined payment statuses.
const (
	PaymentPending     PaymentStatus = "pending"
	PaymentApproved    PaymentStatus = "approved"
	PaymentAuthorized  PaymentStatus = "authorized"
	PaymentInProcess   PaymentStatus = "in_process"
	PaymentRejected    PaymentStatus = "rejected"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentChargedBack PaymentStatus = "charged_back"
)

type PaymentProviderName string

const ProviderMercadoPago PaymentProviderName = "mercadopago"

// Payment correlates a local order with the external provider's checkout.
// ExternalReference, PreferenceID and IdempotencyKey (when present) are each
// globally unique; at most one logical Payment exists per idempotency key.
type Payment struct {
	ID                string              `json:"id"`
	OrderID           string              `json:"orderId"`
	CustomerID        string              `json:"customerId"`
	Amount            float64             `json:"amount"`
	Provider          PaymentProviderName `json:"provider"`
	Status            PaymentStatus       `json:"status"`
	ExternalReference string              `json:"externalReference"`
	ProviderPaymentID string              `json:"providerPaymentId,omitempty"` // set once the provider settles
	PreferenceID      string              `json:"preferenceId"`
	IdempotencyKey    string              `json:"idempotencyKey,omitempty"`
	Metadata          map[string]any      `json:"metadata,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}
