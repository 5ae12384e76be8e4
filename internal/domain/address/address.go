// Package address implements the customer address book: shipping and
// billing addresses with at most one default per type.
package address

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Type distinguishes shipping from billing addresses.
type Type string

const (
	TypeShipping Type = "shipping"
	TypeBilling  Type = "billing"
)

// Valid reports whether t is a known address type.
func (t Type) Valid() bool {
	return t == TypeShipping || t == TypeBilling
}

var (
	// ErrNoDefault is returned when a default address is requested but the
	// customer has none of that type.
	ErrNoDefault = errors.New("no default address")
	// ErrNotFound is returned when an address does not exist or belongs to
	// another customer.
	ErrNotFound = errors.New("address not found")
	// ErrInvalidType is returned for an unknown address type.
	ErrInvalidType = errors.New("invalid address type")
)

// ValidationError lists the required fields missing from an address form.
type ValidationError struct {
	Type    Type
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s address: missing %s", e.Type, strings.Join(e.Missing, ", "))
}

// Fields is the user-entered part of an address.
type Fields struct {
	Street    string
	Apartment string
	City      string
	Country   string
	Zip       string
}

// Normalize trims surrounding whitespace from every field.
func (f Fields) Normalize() Fields {
	return Fields{
		Street:    strings.TrimSpace(f.Street),
		Apartment: strings.TrimSpace(f.Apartment),
		City:      strings.TrimSpace(f.City),
		Country:   strings.TrimSpace(f.Country),
		Zip:       strings.TrimSpace(f.Zip),
	}
}

// Validate checks that street, city and country are present.
func (f Fields) Validate(t Type) error {
	f = f.Normalize()
	var missing []string
	if f.Street == "" {
		missing = append(missing, "street")
	}
	if f.City == "" {
		missing = append(missing, "city")
	}
	if f.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return &ValidationError{Type: t, Missing: missing}
	}
	return nil
}

// Address is a stored customer address.
type Address struct {
	ID         int64
	CustomerID int64
	Type       Type
	Fields
	Default   bool
	CreatedAt time.Time
}

// Selection is the checkout choice for one address type: either the
// customer's current default, or a newly entered address.
type Selection struct {
	UseDefault bool
	Fields     Fields
	// SetDefault promotes the new address to the default of its type.
	SetDefault bool
}

// Validate checks the entered fields unless the default is requested.
func (s Selection) Validate(t Type) error {
	if s.UseDefault {
		return nil
	}
	return s.Fields.Validate(t)
}

// Repository persists addresses.
type Repository interface {
	// Default returns the customer's default address of type t, or ErrNoDefault.
	Default(ctx context.Context, customerID int64, t Type) (*Address, error)
	// Get returns ErrNotFound unless the address belongs to customerID.
	Get(ctx context.Context, customerID, id int64) (*Address, error)
	List(ctx context.Context, customerID int64) ([]Address, error)
	// Create inserts a. When a.Default is set the customer's previous default
	// of the same type is demoted first.
	Create(ctx context.Context, a *Address) error
	// SetDefault makes the address the only default of its type.
	SetDefault(ctx context.Context, customerID, id int64) (*Address, error)
}
