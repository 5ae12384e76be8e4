package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/address"
)

const (
	addressColumns = `id, customer_id, address_type, street, apartment, city, country, zip, is_default, created_at`

	getDefaultAddressSQL = `SELECT ` + addressColumns + ` FROM addresses
		WHERE customer_id = $1 AND address_type = $2 AND is_default`

	getAddressSQL = `SELECT ` + addressColumns + ` FROM addresses WHERE customer_id = $1 AND id = $2`

	listAddressesSQL = `SELECT ` + addressColumns + ` FROM addresses WHERE customer_id = $1
		ORDER BY address_type, is_default DESC, id DESC`

	// Serializes default promotion per customer.
	lockCustomerSQL = `SELECT id FROM customers WHERE id = $1 FOR UPDATE`

	clearDefaultAddressSQL = `UPDATE addresses SET is_default = FALSE
		WHERE customer_id = $1 AND address_type = $2 AND is_default`

	setDefaultAddressSQL = `UPDATE addresses SET is_default = TRUE WHERE id = $1`

	insertAddressSQL = `INSERT INTO addresses (customer_id, address_type, street, apartment, city, country, zip, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
)

var _ address.Repository = (*AddressRepository)(nil)

// AddressRepository implements address.Repository backed by PostgreSQL.
// Writes that touch the default flag must run inside a transaction.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// Default returns the default address of type t, or address.ErrNoDefault.
func (r *AddressRepository) Default(ctx context.Context, customerID int64, t address.Type) (*address.Address, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getDefaultAddressSQL, customerID, t)
	if err != nil {
		return nil, fmt.Errorf("getting default %s address: %w", t, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNoDefault
		}
		return nil, fmt.Errorf("getting default %s address: %w", t, err)
	}
	return &a, nil
}

// Get returns the customer's address with the given id.
func (r *AddressRepository) Get(ctx context.Context, customerID, id int64) (*address.Address, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getAddressSQL, customerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting address %d: %w", id, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, fmt.Errorf("getting address %d: %w", id, err)
	}
	return &a, nil
}

// List returns all addresses of the customer, defaults first per type.
func (r *AddressRepository) List(ctx context.Context, customerID int64) ([]address.Address, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listAddressesSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	return pgx.CollectRows(rows, scanAddress)
}

// Create inserts a, demoting the previous default first when a.Default is set.
func (r *AddressRepository) Create(ctx context.Context, a *address.Address) error {
	q := conn(ctx, r.pool)
	if a.Default {
		if err := r.demote(ctx, q, a.CustomerID, a.Type); err != nil {
			return err
		}
	}

	err := q.QueryRow(ctx, insertAddressSQL,
		a.CustomerID, a.Type, a.Street, a.Apartment, a.City, a.Country, a.Zip, a.Default,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting %s address: %w", a.Type, err)
	}
	return nil
}

// SetDefault promotes the address to the default of its type.
func (r *AddressRepository) SetDefault(ctx context.Context, customerID, id int64) (*address.Address, error) {
	q := conn(ctx, r.pool)
	a, err := r.Get(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	if a.Default {
		return a, nil
	}
	if err := r.demote(ctx, q, customerID, a.Type); err != nil {
		return nil, err
	}
	if _, err := q.Exec(ctx, setDefaultAddressSQL, id); err != nil {
		return nil, fmt.Errorf("setting default address %d: %w", id, err)
	}
	a.Default = true
	return a, nil
}

func (r *AddressRepository) demote(ctx context.Context, q querier, customerID int64, t address.Type) error {
	if _, err := q.Exec(ctx, lockCustomerSQL, customerID); err != nil {
		return fmt.Errorf("locking customer %d: %w", customerID, err)
	}
	if _, err := q.Exec(ctx, clearDefaultAddressSQL, customerID, t); err != nil {
		return fmt.Errorf("clearing default %s address: %w", t, err)
	}
	return nil
}

func scanAddress(row pgx.CollectableRow) (address.Address, error) {
	var a address.Address
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.Type, &a.Street, &a.Apartment,
		&a.City, &a.Country, &a.Zip, &a.Default, &a.CreatedAt,
	)
	return a, err
}
