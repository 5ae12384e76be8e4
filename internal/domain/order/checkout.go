package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/address"
)

// CheckoutForm carries the address choices made at checkout.
type CheckoutForm struct {
	Shipping address.Selection
	Billing  address.Selection
	// SameBillingAsShipping copies the shipping address into a new billing
	// address, ignoring Billing.
	SameBillingAsShipping bool
	PaymentOption         PaymentOption
}

// Validate checks the form without touching storage.
func (f CheckoutForm) Validate(requiresShipping bool) error {
	if !f.PaymentOption.Valid() {
		return ErrInvalidPaymentOption
	}
	if requiresShipping {
		if err := f.Shipping.Validate(address.TypeShipping); err != nil {
			return err
		}
	} else if f.SameBillingAsShipping {
		return ErrShippingAddressRequired
	}
	if !f.SameBillingAsShipping {
		if err := f.Billing.Validate(address.TypeBilling); err != nil {
			return err
		}
	}
	return nil
}

// Checkout resolves the addresses of the form and attaches them to the
// open order. Either everything is stored or nothing is.
func (s *Service) Checkout(ctx context.Context, customerID int64, form CheckoutForm) (*Order, error) {
	return s.mutate(ctx, customerID, func(ctx context.Context, o *Order) error {
		if len(o.Items) == 0 {
			return ErrEmptyCart
		}
		needsShipping := o.RequiresShipping()
		if err := form.Validate(needsShipping); err != nil {
			return err
		}

		var shipping *address.Address
		if needsShipping {
			a, err := s.addresses.Resolve(ctx, customerID, address.TypeShipping, form.Shipping)
			if err != nil {
				return errors.Wrap(err, "shipping address")
			}
			shipping = a
		}

		var (
			billing *address.Address
			err     error
		)
		if form.SameBillingAsShipping {
			billing, err = s.addresses.Duplicate(ctx, shipping, address.TypeBilling)
		} else {
			billing, err = s.addresses.Resolve(ctx, customerID, address.TypeBilling, form.Billing)
		}
		if err != nil {
			return errors.Wrap(err, "billing address")
		}

		o.ShippingAddress = shipping
		o.BillingAddress = billing
		o.PaymentOption = form.PaymentOption
		return nil
	})
}
