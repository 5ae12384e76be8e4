package order

import (
	"context"

	"github.com/go-faster/errors"
)

// Fulfillment records back-office shipping progress on completed orders.
type Fulfillment struct {
	orders Repository
	tx     Transactor
}

// NewFulfillment creates a Fulfillment service.
func NewFulfillment(orders Repository, tx Transactor) *Fulfillment {
	return &Fulfillment{orders: orders, tx: tx}
}

// MarkSent flags the order as shipped.
func (f *Fulfillment) MarkSent(ctx context.Context, orderID int64) (*Order, error) {
	return f.update(ctx, orderID, (*Order).MarkSent)
}

// MarkReceived flags the order as delivered.
func (f *Fulfillment) MarkReceived(ctx context.Context, orderID int64) (*Order, error) {
	return f.update(ctx, orderID, (*Order).MarkReceived)
}

func (f *Fulfillment) update(ctx context.Context, orderID int64, fn func(*Order) error) (*Order, error) {
	var o *Order
	err := f.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = f.orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		return f.orders.Save(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update order %d", orderID)
	}
	return o, nil
}
