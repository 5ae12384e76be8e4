package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/customer"
)

// HeaderSubject carries the customer's stable id. The identity proxy in
// front of the API sets it together with the email header.
const HeaderSubject = "X-Auth-Subject"

const (
	headerEmail  = "X-Auth-Email"
	headerAPIKey = "api_key"
)

var errUnauthenticated = errors.New("authentication required")

type customerKey struct{}

func withCustomer(ctx context.Context, c *customer.Customer) context.Context {
	return context.WithValue(ctx, customerKey{}, c)
}

// customerFrom returns the authenticated customer, if any.
func customerFrom(ctx context.Context) (*customer.Customer, bool) {
	c, ok := ctx.Value(customerKey{}).(*customer.Customer)
	return c, ok && c != nil
}

// identify resolves the optional principal. Requests without a subject pass
// through anonymously.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
		if subject == "" {
			next.ServeHTTP(w, r)
			return
		}

		c, err := h.customers.EnsureBySubject(r.Context(), subject, strings.TrimSpace(r.Header.Get(headerEmail)))
		if err != nil {
			writeError(w, r, errors.Wrap(err, "resolve customer"))
			return
		}
		ctx := zctx.With(withCustomer(r.Context(), c), zap.Int64("customer_id", c.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := customerFrom(r.Context()); !ok {
			writeError(w, r, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireScope authenticates the back-office API key.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := h.auth.Authenticate(r.Context(), r.Header.Get(headerAPIKey), scope)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// mustCustomer is used behind requireCustomer.
func mustCustomer(r *http.Request) *customer.Customer {
	c, _ := customerFrom(r.Context())
	return c
}
