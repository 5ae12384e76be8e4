// Package customer maps authenticated principals to storefront customers.
package customer

import (
	"context"
	"time"
)

// Customer is the storefront profile of an authenticated principal.
type Customer struct {
	ID int64
	// Subject is the identifier assigned by the identity provider.
	Subject   string
	Email     string
	CreatedAt time.Time
}

// Repository persists customers.
type Repository interface {
	// EnsureBySubject returns the customer for subject, creating it on first
	// sight. A non-empty email replaces the stored one.
	EnsureBySubject(ctx context.Context, subject, email string) (*Customer, error)
}
