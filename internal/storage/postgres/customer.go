package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/customer"
)

const ensureCustomerSQL = `INSERT INTO customers (subject, email) VALUES ($1, $2)
	ON CONFLICT (subject) DO UPDATE
		SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE customers.email END
	RETURNING id, subject, email, created_at`

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// EnsureBySubject upserts the customer for subject in a single statement, so
// concurrent first requests resolve to the same row.
func (r *CustomerRepository) EnsureBySubject(ctx context.Context, subject, email string) (*customer.Customer, error) {
	var c customer.Customer
	err := conn(ctx, r.pool).QueryRow(ctx, ensureCustomerSQL, subject, email).
		Scan(&c.ID, &c.Subject, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring customer %q: %w", subject, err)
	}
	return &c, nil
}
