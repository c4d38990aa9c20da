package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"commerce-backend/internal/domain"
	"commerce-backend/internal/infrastructure/mercadopago"
	"commerce-backend/internal/infrastructure/repo"
)

// Provider is the subset of the payment provider the workflow depends on.
// *mercadopago.Client satisfies it; tests substitute a fake.
type Provider interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest, idempotencyKey string) (*mercadopago.Preference, error)
	GetPayment(ctx context.Context, providerPaymentID string) (*mercadopago.PaymentInfo, error)
}

type PayerInput struct {
	Name  string
	Email string
}

type WebhookPayload struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

type PaymentWithPreference struct {
	Payment    domain.Payment         `json:"payment"`
	Preference mercadopago.Preference `json:"preference"`
}

type PaymentService struct {
	Store    repo.Store
	Provider Provider
	Orders   *OrderService

	SuccessURL      string
	PendingURL      string
	FailureURL      string
	NotificationURL string
}

// CreateForOrder creates a provider preference for the order and persists the
// Payment keyed by idempotency key. Repeated calls with the same key converge
// on one Payment row whose preference id tracks the latest preference.
func (s *PaymentService) CreateForOrder(ctx context.Context, orderID string, payer PayerInput, idempotencyKey string) (*PaymentWithPreference, error) {
	order, ok, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NotFoundf("order %s not found", orderID)
	}
	if order.Status == domain.OrderCancelled {
		return nil, domain.InvalidStatef("cannot collect payment for cancelled order %s", orderID)
	}

	externalRef := ExternalReference(orderID)
	if idempotencyKey == "" {
		idempotencyKey = DefaultIdempotencyKey(orderID)
	}

	items := make([]mercadopago.PreferenceItem, 0, len(order.Lines))
	for _, l := range order.Lines {
		items = append(items, mercadopago.PreferenceItem{
			Title:     l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	pref, err := s.Provider.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: items,
		Payer: mercadopago.PreferencePayer{Name: payer.Name, Email: payer.Email},
		BackURLs: &mercadopago.BackURLs{
			Success: s.SuccessURL,
			Pending: s.PendingURL,
			Failure: s.FailureURL,
		},
		NotificationURL:   s.NotificationURL,
		ExternalReference: externalRef,
	}, idempotencyKey)
	if err != nil {
		return nil, domain.ExternalProviderf("create preference: %v", err)
	}

	var payment *domain.Payment
	err = s.Store.WithTx(ctx, func(tx repo.Tx) error {
		now := time.Now().UTC()
		existing, ok, err := tx.GetPaymentByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if !ok {
			// A retry without the original key still lands on the order's
			// single logical payment via the external reference.
			existing, ok, err = tx.GetPaymentByExternalReferenceForUpdate(ctx, externalRef)
			if err != nil {
				return err
			}
		}
		if ok {
			existing.PreferenceID = pref.ID
			existing.IdempotencyKey = idempotencyKey
			existing.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, existing); err != nil {
				return err
			}
			payment = existing
			return nil
		}
		payment = &domain.Payment{
			ID:                uuid.NewString(),
			OrderID:           order.ID,
			CustomerID:        order.CustomerID,
			Amount:            order.Total,
			Provider:          domain.ProviderMercadoPago,
			Status:            domain.PaymentPending,
			ExternalReference: externalRef,
			PreferenceID:      pref.ID,
			IdempotencyKey:    idempotencyKey,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}
	return &PaymentWithPreference{Payment: *payment, Preference: *pref}, nil
}

// Verify pulls the provider-side state of a payment and, on first approval,
// completes the order in the same transaction as the payment update.
func (s *PaymentService) Verify(ctx context.Context, paymentID, providerPaymentID string) (*domain.Payment, *mercadopago.PaymentInfo, error) {
	if _, ok, err := s.Store.GetPayment(ctx, paymentID); err != nil {
		return nil, nil, err
	} else if !ok {
		return nil, nil, domain.NotFoundf("payment %s not found", paymentID)
	}

	info, err := s.Provider.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return nil, nil, domain.ExternalProviderf("get payment: %v", err)
	}

	var updated *domain.Payment
	err = s.Store.WithTx(ctx, func(tx repo.Tx) error {
		p, ok, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("payment %s not found", paymentID)
		}
		var txErr error
		updated, txErr = s.reconcileTx(ctx, tx, p, info, providerPaymentID)
		return txErr
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, info, nil
}

// HandleWebhook processes a provider notification. Non-payment types are
// acknowledged and ignored (ignored=true); the HTTP layer answers success
// even when an error is returned, so the provider never retry-storms.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload WebhookPayload) (*domain.Payment, bool, error) {
	if payload.Type != "payment" {
		return nil, true, nil
	}
	info, err := s.Provider.GetPayment(ctx, payload.Data.ID)
	if err != nil {
		return nil, false, domain.ExternalProviderf("get payment: %v", err)
	}

	var updated *domain.Payment
	err = s.Store.WithTx(ctx, func(tx repo.Tx) error {
		p, ok, err := tx.GetPaymentByExternalReferenceForUpdate(ctx, info.ExternalReference)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("payment with external reference %s not found", info.ExternalReference)
		}
		var txErr error
		updated, txErr = s.reconcileTx(ctx, tx, p, info, payload.Data.ID)
		return txErr
	})
	if err != nil {
		return nil, false, err
	}
	return updated, false, nil
}

// reconcileTx folds the provider state into the local payment. A repeated
// approval is a no-op; the first approval also completes the order.
func (s *PaymentService) reconcileTx(ctx context.Context, tx repo.Tx, p *domain.Payment, info *mercadopago.PaymentInfo, providerPaymentID string) (*domain.Payment, error) {
	if info.TransactionAmount != 0 && info.TransactionAmount != p.Amount {
		return nil, domain.InvalidAmountf("payment amount mismatch: provider %.2f, local %.2f",
			info.TransactionAmount, p.Amount)
	}
	newStatus := domain.PaymentStatus(info.Status)
	if p.Status == domain.PaymentApproved && newStatus == domain.PaymentApproved {
		return p, nil
	}
	wasApproved := p.Status == domain.PaymentApproved
	p.Status = newStatus
	p.ProviderPaymentID = providerPaymentID
	if info.Metadata != nil {
		p.Metadata = info.Metadata
	}
	p.UpdatedAt = time.Now().UTC()
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	if newStatus == domain.PaymentApproved && !wasApproved {
		if err := s.Orders.TransitionTx(ctx, tx, p.OrderID, domain.OrderCompleted, ""); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *PaymentService) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, ok, err := s.Store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NotFoundf("payment %s not found", paymentID)
	}
	return p, nil
}

// GetByPreference resolves the payment behind a checkout preference. The
// provider's back URLs carry the preference id, so return pages look payments
// up this way.
func (s *PaymentService) GetByPreference(ctx context.Context, preferenceID string) (*domain.Payment, error) {
	p, ok, err := s.Store.GetPaymentByPreferenceID(ctx, preferenceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NotFoundf("payment for preference %s not found", preferenceID)
	}
	return p, nil
}

func (s *PaymentService) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return s.Store.ListPaymentsByOrder(ctx, orderID)
}

// ExternalReference is the provider-side correlation id for an order's
// payment. Callers depend on this exact format.
func ExternalReference(orderID string) string {
	return "sale-" + orderID
}

// DefaultIdempotencyKey is used when the caller supplies none.
func DefaultIdempotencyKey(orderID string) string {
	return fmt.Sprintf("payment-%s-%d", orderID, time.Now().UnixMilli())
}
