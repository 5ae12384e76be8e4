package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, name, slug, brand, description, image, price, discount_price, available_quantity, digital`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductBySlugSQL = `SELECT ` + productColumns + ` FROM products WHERE slug = $1`

	// Stock is clamped at zero; the shortfall is what could not be taken.
	decrementStockSQL = `WITH prev AS (
			SELECT available_quantity FROM products WHERE id = $1 FOR UPDATE
		)
		UPDATE products SET available_quantity = GREATEST(products.available_quantity - $2, 0)
		FROM prev WHERE products.id = $1
		RETURNING GREATEST($2 - prev.available_quantity, 0)`

	upsertProductSQL = `INSERT INTO products (name, slug, brand, description, image, price, discount_price, available_quantity, digital)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			brand = EXCLUDED.brand,
			description = EXCLUDED.description,
			image = EXCLUDED.image,
			price = EXCLUDED.price,
			discount_price = EXCLUDED.discount_price,
			available_quantity = EXCLUDED.available_quantity,
			digital = EXCLUDED.digital
		RETURNING id`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ product.Inventory  = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and product.Inventory
// backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	return r.getOne(ctx, getProductByIDSQL, id)
}

// GetBySlug returns a single product by its URL slug.
func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (*product.Product, error) {
	return r.getOne(ctx, getProductBySlugSQL, slug)
}

func (r *ProductRepository) getOne(ctx context.Context, query string, arg any) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting product %v: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %v: %w", arg, err)
	}
	return &p, nil
}

// Decrement lowers stock, clamped at zero, and returns the shortfall.
func (r *ProductRepository) Decrement(ctx context.Context, id int64, qty int) (int, error) {
	var shortfall int
	err := conn(ctx, r.pool).QueryRow(ctx, decrementStockSQL, id, qty).Scan(&shortfall)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("decrementing stock of product %d: %w", id, err)
	}
	return shortfall, nil
}

// Upsert inserts p or updates the product with the same slug, setting p.ID.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	err := conn(ctx, r.pool).QueryRow(ctx, upsertProductSQL,
		p.Name, p.Slug, p.Brand, p.Description, p.Image,
		p.Price, p.DiscountPrice, p.AvailableQuantity, p.Digital,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.Slug, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Brand, &p.Description, &p.Image,
		&p.Price, &p.DiscountPrice, &p.AvailableQuantity, &p.Digital,
	)
	return p, err
}
