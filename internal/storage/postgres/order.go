package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	orderColumns = `id, customer_id, status, COALESCE(transaction_id, ''), payment_option, payment_id,
		charging_since, sent, received, refund_requested, refund_granted, created_at, completed_at,
		coupon_id, shipping_address_id, billing_address_id`

	// The partial unique index orders_open_idx makes this a no-op when the
	// customer already has a non-complete order.
	insertOpenOrderSQL = `INSERT INTO orders (customer_id) VALUES ($1)
		ON CONFLICT (customer_id) WHERE status <> 'complete' DO NOTHING`

	lockOpenOrderSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 AND status <> 'complete' FOR UPDATE`

	lockOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	lockOrderByTransactionSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE transaction_id = $1 AND status = 'complete' FOR UPDATE`

	listCompletedOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 AND status = 'complete' ORDER BY completed_at DESC, id DESC`

	listOrderItemsSQL = `SELECT p.id, p.name, p.slug, p.brand, p.description, p.image, p.price,
			p.discount_price, p.available_quantity, p.digital, oi.quantity
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1 ORDER BY p.id`

	getCouponByIDSQL = `SELECT id, code, amount FROM coupons WHERE id = $1`

	getAddressByIDSQL = `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1`

	updateOrderSQL = `UPDATE orders SET
			status = $2, transaction_id = $3, coupon_id = $4, shipping_address_id = $5,
			billing_address_id = $6, payment_option = $7, payment_id = $8, charging_since = $9,
			sent = $10, received = $11, refund_requested = $12, refund_granted = $13, completed_at = $14
		WHERE id = $1`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	insertOrderItemsSQL = `INSERT INTO order_items (order_id, product_id, quantity)
		SELECT $1, unnest($2::bigint[]), unnest($3::int[])`
)

// lockOpenAttempts bounds retries when the open order completes between the
// insert and the locking select.
const lockOpenAttempts = 3

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Lock
// methods must be called inside a transaction to hold their row locks.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// orderRow holds the foreign keys loaded alongside an order.
type orderRow struct {
	order      order.Order
	couponID   *int64
	shippingID *int64
	billingID  *int64
}

// LockOpen finds or creates the customer's non-complete order and locks it.
func (r *OrderRepository) LockOpen(ctx context.Context, customerID int64) (*order.Order, error) {
	q := conn(ctx, r.pool)
	for range lockOpenAttempts {
		if _, err := q.Exec(ctx, insertOpenOrderSQL, customerID); err != nil {
			return nil, fmt.Errorf("creating open order for customer %d: %w", customerID, err)
		}
		o, err := r.lockOne(ctx, q, lockOpenOrderSQL, customerID)
		if errors.Is(err, order.ErrNotFound) {
			continue
		}
		return o, err
	}
	return nil, fmt.Errorf("locking open order for customer %d: %w", customerID, order.ErrNotFound)
}

// LockByID locks the order with the given id.
func (r *OrderRepository) LockByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.lockOne(ctx, conn(ctx, r.pool), lockOrderByIDSQL, id)
}

// LockByTransactionID locks the completed order with the given transaction id.
func (r *OrderRepository) LockByTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return r.lockOne(ctx, conn(ctx, r.pool), lockOrderByTransactionSQL, transactionID)
}

func (r *OrderRepository) lockOne(ctx context.Context, q querier, query string, arg any) (*order.Order, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("locking order %v: %w", arg, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, scanOrderRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %v: %w", arg, err)
	}
	if err := r.loadRelations(ctx, q, &row); err != nil {
		return nil, err
	}
	return &row.order, nil
}

// ListCompleted returns the customer's completed orders, newest first.
func (r *OrderRepository) ListCompleted(ctx context.Context, customerID int64) ([]order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listCompletedOrdersSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %d: %w", customerID, err)
	}
	list, err := pgx.CollectRows(rows, scanOrderRow)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %d: %w", customerID, err)
	}

	out := make([]order.Order, 0, len(list))
	for i := range list {
		if err := r.loadRelations(ctx, q, &list[i]); err != nil {
			return nil, err
		}
		out = append(out, list[i].order)
	}
	return out, nil
}

// Save writes the order. Items are replaced unless the order is complete.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	var couponID, shippingID, billingID *int64
	if o.Coupon != nil {
		couponID = &o.Coupon.ID
	}
	if o.ShippingAddress != nil {
		shippingID = &o.ShippingAddress.ID
	}
	if o.BillingAddress != nil {
		billingID = &o.BillingAddress.ID
	}
	var transactionID *string
	if o.TransactionID != "" {
		transactionID = &o.TransactionID
	}

	if _, err := q.Exec(ctx, updateOrderSQL,
		o.ID, o.Status, transactionID, couponID, shippingID,
		billingID, o.PaymentOption, o.PaymentID, o.ChargingSince,
		o.Sent, o.Received, o.RefundRequested, o.RefundGranted, o.CompletedAt,
	); err != nil {
		return fmt.Errorf("updating order %d: %w", o.ID, err)
	}

	if o.Status == order.StatusComplete {
		return nil
	}

	if _, err := q.Exec(ctx, deleteOrderItemsSQL, o.ID); err != nil {
		return fmt.Errorf("clearing items of order %d: %w", o.ID, err)
	}
	if len(o.Items) == 0 {
		return nil
	}
	productIDs := make([]int64, len(o.Items))
	quantities := make([]int32, len(o.Items))
	for i, it := range o.Items {
		productIDs[i] = it.Product.ID
		quantities[i] = int32(it.Quantity)
	}
	if _, err := q.Exec(ctx, insertOrderItemsSQL, o.ID, productIDs, quantities); err != nil {
		return fmt.Errorf("writing items of order %d: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) loadRelations(ctx context.Context, q querier, row *orderRow) error {
	o := &row.order

	rows, err := q.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("loading items of order %d: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("loading items of order %d: %w", o.ID, err)
	}

	if row.couponID != nil {
		var c coupon.Coupon
		if err := q.QueryRow(ctx, getCouponByIDSQL, *row.couponID).Scan(&c.ID, &c.Code, &c.Amount); err != nil {
			return fmt.Errorf("loading coupon of order %d: %w", o.ID, err)
		}
		o.Coupon = &c
	}
	if o.ShippingAddress, err = loadAddress(ctx, q, row.shippingID); err != nil {
		return fmt.Errorf("loading shipping address of order %d: %w", o.ID, err)
	}
	if o.BillingAddress, err = loadAddress(ctx, q, row.billingID); err != nil {
		return fmt.Errorf("loading billing address of order %d: %w", o.ID, err)
	}
	return nil
}

func loadAddress(ctx context.Context, q querier, id *int64) (*address.Address, error) {
	if id == nil {
		return nil, nil
	}
	rows, err := q.Query(ctx, getAddressByIDSQL, *id)
	if err != nil {
		return nil, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanOrderRow(row pgx.CollectableRow) (orderRow, error) {
	var r orderRow
	o := &r.order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.TransactionID, &o.PaymentOption, &o.PaymentID,
		&o.ChargingSince, &o.Sent, &o.Received, &o.RefundRequested, &o.RefundGranted, &o.CreatedAt, &o.CompletedAt,
		&r.couponID, &r.shippingID, &r.billingID,
	)
	return r, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it order.Item
		p  product.Product
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Brand, &p.Description, &p.Image,
		&p.Price, &p.DiscountPrice, &p.AvailableQuantity, &p.Digital, &it.Quantity,
	)
	it.Product = p
	return it, err
}
