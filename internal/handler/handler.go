// Package handler exposes the storefront over HTTP/JSON.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/refund"
)

// Cart is the cart and checkout surface of the order engine.
type Cart interface {
	GetOrCreateOpen(ctx context.Context, customerID int64) (*order.Order, error)
	UpdateItem(ctx context.Context, customerID, productID int64, action order.Action) (*order.Order, error)
	ApplyCoupon(ctx context.Context, customerID int64, code string) (*order.Order, error)
	Checkout(ctx context.Context, customerID int64, form order.CheckoutForm) (*order.Order, error)
	History(ctx context.Context, customerID int64) ([]order.Order, error)
}

// Addresses manages a customer's address book.
type Addresses interface {
	List(ctx context.Context, customerID int64) ([]address.Address, error)
	Add(ctx context.Context, customerID int64, t address.Type, f address.Fields, setDefault bool) (*address.Address, error)
	SetDefault(ctx context.Context, customerID, id int64) (*address.Address, error)
}

// Payments captures order payments.
type Payments interface {
	Capture(ctx context.Context, customerID, orderID int64, token string) (*payment.Receipt, error)
}

// Refunds records and reviews refund requests.
type Refunds interface {
	Request(ctx context.Context, f refund.Form) (*refund.Refund, error)
	Review(ctx context.Context, refundID int64, accept bool) (*refund.Refund, error)
}

// Fulfillment updates shipping flags of completed orders.
type Fulfillment interface {
	MarkSent(ctx context.Context, orderID int64) (*order.Order, error)
	MarkReceived(ctx context.Context, orderID int64) (*order.Order, error)
}

// Authenticator validates back-office API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
}

// Deps are the domain services behind the API.
type Deps struct {
	Products    product.Repository
	Customers   customer.Repository
	Cart        Cart
	Addresses   Addresses
	Payments    Payments
	Refunds     Refunds
	Fulfillment Fulfillment
	Auth        Authenticator
}

// Handler serves the storefront API.
type Handler struct {
	products     product.Repository
	customers    customer.Repository
	cart         Cart
	addresses    Addresses
	payments     Payments
	refunds      Refunds
	fulfillment  Fulfillment
	auth         Authenticator
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, deps Deps) *Handler {
	return &Handler{
		products:     deps.Products,
		customers:    deps.Customers,
		cart:         deps.Cart,
		addresses:    deps.Addresses,
		payments:     deps.Payments,
		refunds:      deps.Refunds,
		fulfillment:  deps.Fulfillment,
		auth:         deps.Auth,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes mounts the API under /api. Middlewares run inside the router so
// they see the matched route.
func (h *Handler) Routes(middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.identify)

		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Get("/products/slug/{slug}", h.getProductBySlug)

		r.Get("/cart", h.getCart)
		r.Post("/refunds", h.requestRefund)

		r.Group(func(r chi.Router) {
			r.Use(requireCustomer)

			r.Post("/cart/items", h.updateCartItem)
			r.Post("/cart/coupon", h.applyCoupon)
			r.Post("/checkout", h.checkout)

			r.Get("/addresses", h.listAddresses)
			r.Post("/addresses", h.addAddress)
			r.Post("/addresses/{id}/default", h.setDefaultAddress)

			r.Get("/orders", h.orderHistory)
			r.Post("/orders/{id}/payment", h.capturePayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireScope(auth.ScopeAdmin))

			r.Post("/refunds/{id}/review", h.reviewRefund)
			r.Post("/orders/{id}/sent", h.markSent)
			r.Post("/orders/{id}/received", h.markReceived)
		})
	})
	return r
}
