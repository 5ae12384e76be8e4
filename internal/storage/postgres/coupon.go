package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, amount FROM coupons WHERE upper(code) = upper($1)`

	couponRedeemedSQL = `SELECT EXISTS (
		SELECT 1 FROM customer_coupons WHERE customer_id = $1 AND coupon_id = $2
	)`

	redeemCouponSQL = `INSERT INTO customer_coupons (customer_id, coupon_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	upsertCouponSQL = `INSERT INTO coupons (code, amount) VALUES ($1, $2)
		ON CONFLICT (upper(code)) DO UPDATE SET amount = EXCLUDED.amount
		RETURNING id`

	insertCouponSQL = `INSERT INTO coupons (code, amount) VALUES ($1, $2)
		ON CONFLICT (upper(code)) DO NOTHING`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Ledger     = (*CouponRepository)(nil)
)

// CouponRepository implements coupon.Repository and coupon.Ledger backed by
// PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, ignoring case.
// Returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := conn(ctx, r.pool).QueryRow(ctx, getCouponByCodeSQL, code).Scan(&c.ID, &c.Code, &c.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// IsRedeemed reports whether the customer already used the coupon.
func (r *CouponRepository) IsRedeemed(ctx context.Context, customerID, couponID int64) (bool, error) {
	var used bool
	if err := conn(ctx, r.pool).QueryRow(ctx, couponRedeemedSQL, customerID, couponID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking redemption of coupon %d: %w", couponID, err)
	}
	return used, nil
}

// Redeem records the redemption; a repeated call is a no-op.
func (r *CouponRepository) Redeem(ctx context.Context, customerID, couponID int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, redeemCouponSQL, customerID, couponID); err != nil {
		return fmt.Errorf("redeeming coupon %d: %w", couponID, err)
	}
	return nil
}

// Upsert creates c or updates the amount of the coupon with the same code.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if err := conn(ctx, r.pool).QueryRow(ctx, upsertCouponSQL, c.Code, c.Amount).Scan(&c.ID); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// InsertBatch inserts coupons in one round trip, keeping existing codes.
// It returns how many rows were inserted.
func (r *CouponRepository) InsertBatch(ctx context.Context, coupons []coupon.Coupon) (int, error) {
	if len(coupons) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, c := range coupons {
		b.Queue(insertCouponSQL, c.Code, c.Amount)
	}

	res := r.pool.SendBatch(ctx, b)
	inserted := 0
	for _, c := range coupons {
		tag, err := res.Exec()
		if err != nil {
			_ = res.Close()
			return inserted, fmt.Errorf("inserting coupon %q: %w", c.Code, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := res.Close(); err != nil {
		return inserted, fmt.Errorf("closing coupon batch: %w", err)
	}
	return inserted, nil
}
