// Package refund handles customer refund requests for completed orders and
// their back-office review.
package refund

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

var (
	// ErrOrderNotFound is returned when no completed order carries the
	// transaction id.
	ErrOrderNotFound = errors.New("no completed order with this transaction id")
	// ErrNotFound is returned for an unknown refund ticket.
	ErrNotFound = errors.New("refund not found")
	// ErrAlreadyReviewed is returned when a ticket was already decided.
	ErrAlreadyReviewed = errors.New("refund already reviewed")
)

// ValidationError reports an invalid refund form field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Refund is a customer's refund ticket.
type Refund struct {
	ID        int64
	OrderID   int64
	Message   string
	Email     string
	Accepted  bool
	Reviewed  bool
	CreatedAt time.Time
}

// Form is the refund request submitted by a customer.
type Form struct {
	TransactionID string
	Message       string
	Email         string
}

// Validate checks the form fields.
func (f Form) Validate() error {
	if strings.TrimSpace(f.TransactionID) == "" {
		return &ValidationError{Field: "transactionId", Reason: "required"}
	}
	if strings.TrimSpace(f.Message) == "" {
		return &ValidationError{Field: "message", Reason: "required"}
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(f.Email)); err != nil {
		return &ValidationError{Field: "email", Reason: "invalid address"}
	}
	return nil
}

// Repository persists refund tickets.
type Repository interface {
	Create(ctx context.Context, r *Refund) error
	// Lock returns ErrNotFound for an unknown id.
	Lock(ctx context.Context, id int64) (*Refund, error)
	Save(ctx context.Context, r *Refund) error
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service records and reviews refund requests.
type Service struct {
	orders  order.Repository
	refunds Repository
	tx      Transactor
	now     func() time.Time
}

// NewService creates a refund Service.
func NewService(orders order.Repository, refunds Repository, tx Transactor) *Service {
	return &Service{orders: orders, refunds: refunds, tx: tx, now: time.Now}
}

// Request flags the completed order identified by the form's transaction id
// and opens a ticket. Nothing is written when the order does not exist.
func (s *Service) Request(ctx context.Context, f Form) (*Refund, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	r := &Refund{
		Message:   strings.TrimSpace(f.Message),
		Email:     strings.TrimSpace(f.Email),
		CreatedAt: s.now(),
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByTransactionID(ctx, strings.TrimSpace(f.TransactionID))
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				return ErrOrderNotFound
			}
			return errors.Wrap(err, "lock order")
		}
		if err := o.RequestRefund(); err != nil {
			if errors.Is(err, order.ErrNotComplete) {
				return ErrOrderNotFound
			}
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return errors.Wrap(err, "save order")
		}

		r.OrderID = o.ID
		if err := s.refunds.Create(ctx, r); err != nil {
			return errors.Wrap(err, "create refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Review records the back-office decision on a ticket. Accepting grants the
// refund on the order; rejecting clears the request flag so the customer may
// ask again.
func (s *Service) Review(ctx context.Context, refundID int64, accept bool) (*Refund, error) {
	var r *Refund
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.refunds.Lock(ctx, refundID)
		if err != nil {
			return err
		}
		if r.Reviewed {
			return ErrAlreadyReviewed
		}

		o, err := s.orders.LockByID(ctx, r.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if accept {
			err = o.GrantRefund()
		} else {
			err = o.DenyRefund()
		}
		if err != nil {
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return errors.Wrap(err, "save order")
		}

		r.Reviewed = true
		r.Accepted = accept
		return s.refunds.Save(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
