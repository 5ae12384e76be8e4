package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type productJSON struct {
	Name              string              `json:"name"`
	Slug              string              `json:"slug"`
	Brand             string              `json:"brand"`
	Description       string              `json:"description"`
	Image             string              `json:"image"`
	Price             decimal.Decimal     `json:"price"`
	DiscountPrice     decimal.NullDecimal `json:"discountPrice"`
	AvailableQuantity int                 `json:"availableQuantity"`
	Digital           bool                `json:"digital"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, pj := range products {
		p := product.Product{
			Name:              pj.Name,
			Slug:              pj.Slug,
			Brand:             pj.Brand,
			Description:       pj.Description,
			Image:             pj.Image,
			Price:             pj.Price,
			DiscountPrice:     pj.DiscountPrice,
			AvailableQuantity: pj.AvailableQuantity,
			Digital:           pj.Digital,
		}
		if err := repo.Upsert(ctx, &p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.Slug)
		}

		slog.Info("upserted product", slog.Int64("id", p.ID), slog.String("slug", p.Slug))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding demo coupons")

	coupons := []coupon.Coupon{
		{Code: "WELCOME5", Amount: decimal.NewFromInt(5)},
		{Code: "SPRING10", Amount: decimal.NewFromInt(10)},
		{Code: "BIGSPENDER", Amount: decimal.NewFromInt(50)},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("amount", c.Amount.StringFixed(2)))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	err := repo.Create(ctx, &auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Back-office key",
		Scopes:  []string{auth.ScopeAdmin},
	})
	if errors.Is(err, postgres.ErrDuplicateKey) {
		slog.Info("API key already present", slog.String("id", "admin"))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "create admin API key")
	}

	slog.Info("created API key", slog.String("id", "admin"))

	return nil
}
