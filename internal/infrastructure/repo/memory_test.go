package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-backend/internal/domain"
)

func newPayment(id, orderID string) *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:                id,
		OrderID:           orderID,
		CustomerID:        "cus-1",
		Amount:            242,
		Provider:          domain.ProviderMercadoPago,
		Status:            domain.PaymentPending,
		ExternalReference: "sale-" + orderID,
		PreferenceID:      "pref-" + orderID,
		IdempotencyKey:    "key-" + orderID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestMemoryStoreGetPaymentByPreferenceID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertPayment(ctx, newPayment("pay-1", "ord-1"))
	}))

	p, ok, err := store.GetPaymentByPreferenceID(ctx, "pref-ord-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pay-1", p.ID)

	_, ok, err = store.GetPaymentByPreferenceID(ctx, "pref-unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryInsertPaymentUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertPayment(ctx, newPayment("pay-1", "ord-1"))
	}))

	cases := []struct {
		name   string
		mutate func(p *domain.Payment)
	}{
		{"external reference", func(p *domain.Payment) { p.ExternalReference = "sale-ord-1" }},
		{"idempotency key", func(p *domain.Payment) { p.IdempotencyKey = "key-ord-1" }},
		{"preference id", func(p *domain.Payment) { p.PreferenceID = "pref-ord-1" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPayment("pay-2", "ord-2")
			tc.mutate(p)
			err := store.WithTx(ctx, func(tx Tx) error {
				return tx.InsertPayment(ctx, p)
			})
			require.Error(t, err)
			assert.Equal(t, domain.KindConflict, domain.KindOf(err))
		})
	}

	payments, err := store.ListPaymentsByOrder(ctx, "ord-2")
	require.NoError(t, err)
	assert.Empty(t, payments)
}
