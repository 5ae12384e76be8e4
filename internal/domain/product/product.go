package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID          int64
	Name        string
	Slug        string
	Brand       string
	Description string
	Image       string
	Price       decimal.Decimal
	// DiscountPrice overrides Price when valid.
	DiscountPrice     decimal.NullDecimal
	AvailableQuantity int
	// Digital products never require a shipping address.
	Digital bool
}

// UnitPrice returns the price a customer pays for one unit.
func (p Product) UnitPrice() decimal.Decimal {
	if p.DiscountPrice.Valid {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

// Stocks reports whether qty units can be sold from current stock.
func (p Product) Stocks(qty int) bool {
	return qty <= p.AvailableQuantity
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
	GetBySlug(ctx context.Context, slug string) (*Product, error)
}

// Inventory commits stock changes once an order is paid.
type Inventory interface {
	// Decrement lowers available stock of a product by qty. Stock never goes
	// below zero: the returned shortfall is the number of units that could
	// not be taken from stock.
	Decrement(ctx context.Context, id int64, qty int) (shortfall int, err error)
}
