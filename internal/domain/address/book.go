package address

import (
	"context"

	"github.com/go-faster/errors"
)

// Transactor runs fn inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Book resolves checkout address selections and manages stored addresses.
type Book struct {
	repo Repository
	tx   Transactor
}

// NewBook creates an address Book.
func NewBook(repo Repository, tx Transactor) *Book {
	return &Book{repo: repo, tx: tx}
}

// Resolve turns a Selection into a stored address. A new address is
// validated before anything is written.
func (b *Book) Resolve(ctx context.Context, customerID int64, t Type, sel Selection) (*Address, error) {
	if !t.Valid() {
		return nil, ErrInvalidType
	}
	if sel.UseDefault {
		a, err := b.repo.Default(ctx, customerID, t)
		if err != nil {
			if errors.Is(err, ErrNoDefault) {
				return nil, ErrNoDefault
			}
			return nil, errors.Wrapf(err, "get default %s address", t)
		}
		return a, nil
	}
	return b.Add(ctx, customerID, t, sel.Fields, sel.SetDefault)
}

// Add validates and stores a new address.
func (b *Book) Add(ctx context.Context, customerID int64, t Type, f Fields, setDefault bool) (*Address, error) {
	if !t.Valid() {
		return nil, ErrInvalidType
	}
	if err := f.Validate(t); err != nil {
		return nil, err
	}

	a := &Address{
		CustomerID: customerID,
		Type:       t,
		Fields:     f.Normalize(),
		Default:    setDefault,
	}
	if err := b.tx.InTx(ctx, func(ctx context.Context) error {
		return b.repo.Create(ctx, a)
	}); err != nil {
		return nil, errors.Wrapf(err, "create %s address", t)
	}
	return a, nil
}

// Duplicate stores a copy of src as a non-default address of type t. It
// backs the "billing same as shipping" option.
func (b *Book) Duplicate(ctx context.Context, src *Address, t Type) (*Address, error) {
	if !t.Valid() {
		return nil, ErrInvalidType
	}
	a := &Address{
		CustomerID: src.CustomerID,
		Type:       t,
		Fields:     src.Fields,
	}
	if err := b.tx.InTx(ctx, func(ctx context.Context) error {
		return b.repo.Create(ctx, a)
	}); err != nil {
		return nil, errors.Wrapf(err, "copy address %d", src.ID)
	}
	return a, nil
}

// List returns all addresses of the customer.
func (b *Book) List(ctx context.Context, customerID int64) ([]Address, error) {
	list, err := b.repo.List(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return list, nil
}

// SetDefault promotes an existing address to the default of its type.
func (b *Book) SetDefault(ctx context.Context, customerID, id int64) (*Address, error) {
	var a *Address
	err := b.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = b.repo.SetDefault(ctx, customerID, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "set default address %d", id)
	}
	return a, nil
}
