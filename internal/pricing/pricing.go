// Package pricing computes tax-inclusive order totals.
//
// All currency amounts are rounded to cents (round half up) after every
// multiplication, not only at the end. Small rounding differences compounding
// across many lines are expected; callers must not "fix" them by re-deriving
// aggregates from unrounded values.
package pricing

import (
	"math"

	"commerce-backend/internal/domain"
)

// Line is one priced order line. TaxRate applies to BaseUnitPrice (the
// tax-exclusive price). UnitPriceWithTax is the price locked in at cart time;
// when zero it is derived from BaseUnitPrice and TaxRate.
type Line struct {
	Quantity         int
	BaseUnitPrice    float64
	TaxRate          float64 // percent, 0-100
	UnitPriceWithTax float64 // 0 = derive
}

type Totals struct {
	Subtotal       float64 // tax-inclusive
	TaxAmount      float64
	DiscountAmount float64
	Total          float64
}

// Round2 rounds to the cent boundary, half away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// UnitPriceWithTax derives the tax-inclusive unit price from a base price.
func UnitPriceWithTax(basePrice, taxRate float64) float64 {
	return Round2(basePrice * (1 + taxRate/100))
}

// LineSubtotal is the tax-inclusive charge for a whole line.
func LineSubtotal(quantity int, unitPriceWithTax float64) float64 {
	return Round2(float64(quantity) * unitPriceWithTax)
}

// LineTax is the tax portion of a whole line, computed from the base price.
func LineTax(quantity int, basePrice, taxRate float64) float64 {
	return Round2(float64(quantity) * basePrice * (taxRate / 100))
}

// Calculate aggregates the lines and nets the discount against the
// tax-inclusive subtotal. The discount is never applied before tax.
func Calculate(lines []Line, discountRate float64) (Totals, error) {
	var t Totals
	if discountRate < 0 || discountRate > 100 {
		return t, domain.InvalidAmountf("discount rate %.2f out of range 0-100", discountRate)
	}
	for _, l := range lines {
		if l.Quantity < 1 {
			return t, domain.InvalidAmountf("line quantity %d must be at least 1", l.Quantity)
		}
		if l.BaseUnitPrice < 0 {
			return t, domain.InvalidAmountf("base unit price %.2f must not be negative", l.BaseUnitPrice)
		}
		if l.TaxRate < 0 || l.TaxRate > 100 {
			return t, domain.InvalidAmountf("tax rate %.2f out of range 0-100", l.TaxRate)
		}
		unit := l.UnitPriceWithTax
		if unit == 0 {
			unit = UnitPriceWithTax(l.BaseUnitPrice, l.TaxRate)
		} else if unit < 0 {
			return t, domain.InvalidAmountf("unit price %.2f must not be negative", unit)
		}
		t.Subtotal = Round2(t.Subtotal + LineSubtotal(l.Quantity, unit))
		t.TaxAmount = Round2(t.TaxAmount + LineTax(l.Quantity, l.BaseUnitPrice, l.TaxRate))
	}
	t.DiscountAmount = Round2(t.Subtotal * discountRate / 100)
	t.Total = Round2(t.Subtotal - t.DiscountAmount)
	if t.Total < 0 {
		return Totals{}, domain.InvalidAmountf("order total %.2f must not be negative", t.Total)
	}
	return t, nil
}
