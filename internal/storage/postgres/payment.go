package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/payment"
)

const insertPaymentSQL = `INSERT INTO payments (customer_id, order_id, charge_id, amount, amount_minor, currency, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create inserts p and sets its ID. An order holds at most one payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertPaymentSQL,
		p.CustomerID, p.OrderID, p.ChargeID, p.Amount, p.AmountMinor, p.Currency, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("inserting payment for order %d: %w", p.OrderID, err)
	}
	return nil
}
