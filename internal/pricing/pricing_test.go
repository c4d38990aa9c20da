package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-backend/internal/domain"
)

func TestCalculateSingleLine(t *testing.T) {
	got, err := Calculate([]Line{{Quantity: 1, BaseUnitPrice: 100, TaxRate: 21}}, 10)
	require.NoError(t, err)
	assert.Equal(t, 121.0, got.Subtotal)
	assert.Equal(t, 21.0, got.TaxAmount)
	assert.Equal(t, 12.1, got.DiscountAmount)
	assert.Equal(t, 108.9, got.Total)
}

func TestCalculateCallerLockedUnitPrice(t *testing.T) {
	// Price locked at cart time: tax still reported from the base price.
	got, err := Calculate([]Line{{Quantity: 2, BaseUnitPrice: 100, TaxRate: 21, UnitPriceWithTax: 121}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 242.0, got.Subtotal)
	assert.Equal(t, 42.0, got.TaxAmount)
	assert.Equal(t, 0.0, got.DiscountAmount)
	assert.Equal(t, 242.0, got.Total)
}

func TestCalculateFullDiscount(t *testing.T) {
	got, err := Calculate([]Line{{Quantity: 3, BaseUnitPrice: 50, TaxRate: 21}}, 100)
	require.NoError(t, err)
	assert.Equal(t, got.Subtotal, got.DiscountAmount)
	assert.Equal(t, 0.0, got.Total)
}

func TestCalculateSubCentPriceRoundsToZero(t *testing.T) {
	got, err := Calculate([]Line{{Quantity: 1, BaseUnitPrice: 0.004, TaxRate: 0}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Subtotal)
	assert.Equal(t, 0.0, got.Total)
}

// Discount applies to the tax-inclusive subtotal, never before tax. With mixed
// tax rates this diverges from the naive "average tax after discount" figure.
func TestCalculateMixedTaxRatesDiscountAfterTax(t *testing.T) {
	lines := []Line{
		{Quantity: 1, BaseUnitPrice: 100, TaxRate: 21},
		{Quantity: 1, BaseUnitPrice: 200, TaxRate: 10.5},
	}
	got, err := Calculate(lines, 10)
	require.NoError(t, err)
	assert.Equal(t, 342.0, got.Subtotal) // 121 + 221
	assert.Equal(t, 42.0, got.TaxAmount) // 21 + 21
	assert.Equal(t, 34.2, got.DiscountAmount)
	assert.Equal(t, 307.8, got.Total)
	assert.Equal(t, got.Subtotal-got.DiscountAmount, got.Total)

	// Naive computation: discount the summed bases, then apply the average rate.
	naive := Round2(Round2((100+200)*(1+(21+10.5)/2/100)) * 0.9)
	assert.NotEqual(t, naive, got.Total)
}

func TestCalculateRoundsEveryLine(t *testing.T) {
	// 3 * 33.333 with 21% tax: each line amount is rounded before aggregation.
	lines := []Line{
		{Quantity: 1, BaseUnitPrice: 33.333, TaxRate: 21},
		{Quantity: 1, BaseUnitPrice: 33.333, TaxRate: 21},
		{Quantity: 1, BaseUnitPrice: 33.333, TaxRate: 21},
	}
	got, err := Calculate(lines, 0)
	require.NoError(t, err)
	// Unit with tax rounds to 40.33; aggregate is 3*40.33, not round2(99.999*1.21).
	assert.Equal(t, 120.99, got.Subtotal)
	assert.Equal(t, 21.0, got.TaxAmount) // 7.00 per line after rounding
}

func TestCalculateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		lines    []Line
		discount float64
	}{
		{"zero quantity", []Line{{Quantity: 0, BaseUnitPrice: 10, TaxRate: 21}}, 0},
		{"negative base price", []Line{{Quantity: 1, BaseUnitPrice: -1, TaxRate: 21}}, 0},
		{"tax rate above 100", []Line{{Quantity: 1, BaseUnitPrice: 10, TaxRate: 101}}, 0},
		{"negative discount", []Line{{Quantity: 1, BaseUnitPrice: 10, TaxRate: 21}}, -5},
		{"discount above 100", []Line{{Quantity: 1, BaseUnitPrice: 10, TaxRate: 21}}, 120},
		{"negative locked price", []Line{{Quantity: 1, BaseUnitPrice: 10, TaxRate: 21, UnitPriceWithTax: -2}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Calculate(tc.lines, tc.discount)
			require.Error(t, err)
			assert.Equal(t, domain.KindInvalidAmount, domain.KindOf(err))
		})
	}
}
