package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// Action is a cart mutation requested by the storefront.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionClear  Action = "clear"
)

// Service implements the cart: every mutation locks the customer's open
// order for the duration of one transaction.
type Service struct {
	products  product.Repository
	coupons   coupon.Validator
	addresses *address.Book
	orders    Repository
	tx        Transactor

	claimTimeout time.Duration
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClaimTimeout sets the age after which a charge attempt no longer
// blocks cart edits. It should match the payment service's claim timeout.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a cart Service.
func NewService(
	products product.Repository,
	coupons coupon.Validator,
	addresses *address.Book,
	orders Repository,
	tx Transactor,
	opts ...Option,
) *Service {
	s := &Service{
		products:     products,
		coupons:      coupons,
		addresses:    addresses,
		orders:       orders,
		tx:           tx,
		claimTimeout: DefaultClaimTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreateOpen returns the customer's open order, creating it if needed.
func (s *Service) GetOrCreateOpen(ctx context.Context, customerID int64) (*Order, error) {
	var o *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.lockOpen(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "get open order")
	}
	return o, nil
}

// lockOpen locks the open order and persists the release of an abandoned
// charge attempt.
func (s *Service) lockOpen(ctx context.Context, customerID int64) (*Order, error) {
	o, err := s.orders.LockOpen(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if o.ReleaseStale(s.now(), s.claimTimeout) {
		if err := s.orders.Save(ctx, o); err != nil {
			return nil, errors.Wrap(err, "release stale claim")
		}
	}
	return o, nil
}

// mutate locks the open order, applies fn and saves the result.
func (s *Service) mutate(ctx context.Context, customerID int64, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	var o *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.lockOpen(ctx, customerID)
		if err != nil {
			return errors.Wrap(err, "lock open order")
		}
		if err := o.Mutable(); err != nil {
			return err
		}
		if err := fn(ctx, o); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return errors.Wrap(err, "save order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateItem applies a storefront cart action to one product.
func (s *Service) UpdateItem(ctx context.Context, customerID, productID int64, action Action) (*Order, error) {
	switch action {
	case ActionAdd:
		return s.AddItem(ctx, customerID, productID, 1)
	case ActionRemove:
		return s.RemoveItem(ctx, customerID, productID, 1)
	case ActionClear:
		return s.ClearItem(ctx, customerID, productID)
	default:
		return nil, ErrUnknownAction
	}
}

// AddItem adds delta units of a product to the cart. Stock is only checked,
// never reserved.
func (s *Service) AddItem(ctx context.Context, customerID, productID int64, delta int) (*Order, error) {
	return s.mutate(ctx, customerID, func(ctx context.Context, o *Order) error {
		p, err := s.products.GetByID(ctx, productID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return product.ErrNotFound
			}
			return errors.Wrapf(err, "get product %d", productID)
		}
		return o.AddItem(*p, delta)
	})
}

// RemoveItem removes delta units of a product from the cart.
func (s *Service) RemoveItem(ctx context.Context, customerID, productID int64, delta int) (*Order, error) {
	return s.mutate(ctx, customerID, func(_ context.Context, o *Order) error {
		return o.RemoveItem(productID, delta)
	})
}

// ClearItem removes a product from the cart entirely.
func (s *Service) ClearItem(ctx context.Context, customerID, productID int64) (*Order, error) {
	return s.mutate(ctx, customerID, func(_ context.Context, o *Order) error {
		return o.ClearItem(productID)
	})
}

// ApplyCoupon validates code for the customer and attaches it to the cart.
func (s *Service) ApplyCoupon(ctx context.Context, customerID int64, code string) (*Order, error) {
	return s.mutate(ctx, customerID, func(ctx context.Context, o *Order) error {
		c, err := s.coupons.Validate(ctx, customerID, code)
		if err != nil {
			return err
		}
		return o.ApplyCoupon(c)
	})
}

// History returns the customer's completed orders, newest first.
func (s *Service) History(ctx context.Context, customerID int64) ([]Order, error) {
	list, err := s.orders.ListCompleted(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list completed orders")
	}
	return list, nil
}
