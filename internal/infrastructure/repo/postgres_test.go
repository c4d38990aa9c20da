package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"commerce-backend/internal/domain"
)

func TestInsertPaymentErrTranslatesUniqueViolation(t *testing.T) {
	err := insertPaymentErr(&pq.Error{Code: "23505", Constraint: "payments_external_reference_key"}, "sale-ord-1")
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Contains(t, err.Error(), "sale-ord-1")

	wrapped := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	assert.Equal(t, domain.KindConflict, domain.KindOf(insertPaymentErr(wrapped, "sale-ord-2")))
}

func TestInsertPaymentErrPassesOtherErrorsThrough(t *testing.T) {
	serialization := &pq.Error{Code: "40001"}
	assert.Equal(t, error(serialization), insertPaymentErr(serialization, "sale-ord-1"))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, insertPaymentErr(plain, "sale-ord-1"))
	assert.Nil(t, insertPaymentErr(nil, "sale-ord-1"))
}
