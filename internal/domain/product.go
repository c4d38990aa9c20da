package domain

import "time"

// Product holds the tax-exclusive base price; the price charged to the
// customer is derived from BasePrice and TaxRate at order time.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BasePrice float64   `json:"basePrice"`
	TaxRate   float64   `json:"taxRate"` // percent, 0-100
	Stock     int       `json:"stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
