package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/refund"
)

const (
	insertRefundSQL = `INSERT INTO refunds (order_id, message, email, accepted, reviewed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	lockRefundSQL = `SELECT id, order_id, message, email, accepted, reviewed, created_at
		FROM refunds WHERE id = $1 FOR UPDATE`

	updateRefundSQL = `UPDATE refunds SET accepted = $2, reviewed = $3 WHERE id = $1`
)

var _ refund.Repository = (*RefundRepository)(nil)

// RefundRepository implements refund.Repository backed by PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository returns a RefundRepository that uses the given pool.
func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

// Create inserts rf and sets its ID.
func (r *RefundRepository) Create(ctx context.Context, rf *refund.Refund) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertRefundSQL,
		rf.OrderID, rf.Message, rf.Email, rf.Accepted, rf.Reviewed, rf.CreatedAt,
	).Scan(&rf.ID)
	if err != nil {
		return fmt.Errorf("inserting refund for order %d: %w", rf.OrderID, err)
	}
	return nil
}

// Lock returns the ticket and holds its row lock until the transaction ends.
func (r *RefundRepository) Lock(ctx context.Context, id int64) (*refund.Refund, error) {
	var rf refund.Refund
	err := conn(ctx, r.pool).QueryRow(ctx, lockRefundSQL, id).Scan(
		&rf.ID, &rf.OrderID, &rf.Message, &rf.Email, &rf.Accepted, &rf.Reviewed, &rf.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, refund.ErrNotFound
		}
		return nil, fmt.Errorf("locking refund %d: %w", id, err)
	}
	return &rf, nil
}

// Save writes the review decision.
func (r *RefundRepository) Save(ctx context.Context, rf *refund.Refund) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, updateRefundSQL, rf.ID, rf.Accepted, rf.Reviewed); err != nil {
		return fmt.Errorf("updating refund %d: %w", rf.ID, err)
	}
	return nil
}
