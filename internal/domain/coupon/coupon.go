package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no coupon matches the given code.
	ErrNotFound = errors.New("coupon not found")
	// ErrAlreadyUsed is returned when the customer has already redeemed the coupon.
	ErrAlreadyUsed = errors.New("coupon already used")
)

// Coupon is a flat discount code. Codes match case-insensitively.
type Coupon struct {
	ID     int64
	Code   string
	Amount decimal.Decimal
}

// Repository provides coupon lookup.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon matches code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// Ledger tracks which coupons each customer has redeemed.
type Ledger interface {
	IsRedeemed(ctx context.Context, customerID, couponID int64) (bool, error)
	// Redeem records the redemption. Redeeming twice is a no-op.
	Redeem(ctx context.Context, customerID, couponID int64) error
}
