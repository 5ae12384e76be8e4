package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/refund"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/processor/braintree"
	"github.com/xenking/storefront/internal/processor/fake"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("processor", cfg.Processor.Kind),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	processor, err := newProcessor(cfg.Processor)
	if err != nil {
		return errors.Wrap(err, "create payment processor")
	}

	api, healthSvc, err := newServer(ctx, cfg, pool, processor, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Leaves room for a slow processor call inside a capture.
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           api,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newServer wires repositories, domain services and the HTTP stack. Health
// checks are registered but not started.
func newServer(
	ctx context.Context,
	cfg *Config,
	pool *pgxpool.Pool,
	processor payment.Processor,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (http.Handler, *health.Health, error) {
	healthSvc := health.New(zctx.From(ctx).Named("health"))
	healthSvc.Register(health.Readiness, "postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000))
	healthSvc.Register(health.Liveness, "gc", health.GCMaxPauseCheck(time.Second))

	// Repositories.
	tx := postgres.NewTransactor(pool)
	productRepo := postgres.NewProductRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	refundRepo := postgres.NewRefundRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	book := address.NewBook(addressRepo, tx)
	orderService := order.NewService(productRepo, coupon.NewRepoValidator(couponRepo, couponRepo), book, orderRepo, tx,
		order.WithClaimTimeout(cfg.ClaimTimeout),
	)
	paymentService, err := payment.NewService(
		orderRepo, paymentRepo, productRepo, couponRepo, processor, tx,
		payment.Config{Currency: cfg.Currency, ClaimTimeout: cfg.ClaimTimeout},
		payment.WithTracerProvider(tp),
		payment.WithMeterProvider(mp),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create payment service")
	}

	h := handler.NewHandler(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, handler.Deps{
		Products:    productRepo,
		Customers:   customerRepo,
		Cart:        orderService,
		Addresses:   book,
		Payments:    paymentService,
		Refunds:     refund.NewService(orderRepo, refundRepo, tx),
		Fulfillment: order.NewFulfillment(orderRepo, tx),
		Auth:        auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	})

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.Handle("/livez", healthSvc.Handler(health.Liveness))
	mux.Handle("/readyz", healthSvc.Handler(health.Readiness))
	mux.Handle("/api/", h.Routes(httpmiddleware.LogRequests()))

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Instrument("storefront-api", tp, mp),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: rateLimitKey(cfg.RateLimit),
		}),
	), healthSvc, nil
}

// rateLimitKey trusts the subject header only when the deployment says a
// proxy sets it. Otherwise clients could rotate it to escape the IP bucket.
func rateLimitKey(cfg RateLimitConfig) func(*http.Request) string {
	if cfg.KeyBySubject {
		return httpmiddleware.KeyByHeader(handler.HeaderSubject)
	}
	return nil
}

func newProcessor(cfg ProcessorConfig) (payment.Processor, error) {
	switch cfg.Kind {
	case ProcessorBraintree:
		return braintree.New(cfg.Braintree)
	default:
		return fake.New(), nil
	}
}
