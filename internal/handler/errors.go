package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/refund"
)

// sentinelStatus maps domain sentinel errors to HTTP status codes. The
// sentinel's own text is the response message.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{errUnauthenticated, http.StatusUnauthorized},
	{auth.ErrUnauthorized, http.StatusUnauthorized},

	{product.ErrNotFound, http.StatusNotFound},
	{order.ErrNotFound, http.StatusNotFound},
	{coupon.ErrNotFound, http.StatusNotFound},
	{address.ErrNoDefault, http.StatusNotFound},
	{address.ErrNotFound, http.StatusNotFound},
	{refund.ErrOrderNotFound, http.StatusNotFound},
	{refund.ErrNotFound, http.StatusNotFound},

	{coupon.ErrAlreadyUsed, http.StatusConflict},
	{order.ErrAlreadyComplete, http.StatusConflict},
	{order.ErrCheckoutInProgress, http.StatusConflict},
	{order.ErrNotComplete, http.StatusConflict},
	{payment.ErrPaymentInProgress, http.StatusConflict},
	{refund.ErrAlreadyReviewed, http.StatusConflict},
	{order.ErrRefundPending, http.StatusConflict},
	{order.ErrRefundGranted, http.StatusConflict},

	{order.ErrEmptyCart, http.StatusUnprocessableEntity},
	{order.ErrShippingAddressRequired, http.StatusUnprocessableEntity},
	{order.ErrBillingAddressRequired, http.StatusUnprocessableEntity},
	{order.ErrInvalidQuantity, http.StatusUnprocessableEntity},
	{order.ErrInvalidPaymentOption, http.StatusUnprocessableEntity},
	{order.ErrUnknownAction, http.StatusBadRequest},
	{address.ErrInvalidType, http.StatusUnprocessableEntity},
	{payment.ErrMissingToken, http.StatusUnprocessableEntity},
}

// writeError maps err to a JSON error response. Unexpected errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		badReq      *badRequestError
		addrInvalid *address.ValidationError
		formInvalid *refund.ValidationError
		outOfStock  *order.OutOfStockError
		failure     *payment.Failure
	)
	switch {
	case errors.As(err, &badReq):
		writeMessage(w, http.StatusBadRequest, badReq.Error())
		return
	case errors.As(err, &addrInvalid):
		writeMessage(w, http.StatusUnprocessableEntity, addrInvalid.Error())
		return
	case errors.As(err, &formInvalid):
		writeMessage(w, http.StatusUnprocessableEntity, formInvalid.Error())
		return
	case errors.As(err, &outOfStock):
		writeJSON(w, http.StatusConflict, func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("code")
			e.Int(http.StatusConflict)
			e.FieldStart("message")
			e.Str("not enough stock")
			e.FieldStart("productId")
			e.Int64(outOfStock.ProductID)
			e.FieldStart("available")
			e.Int(outOfStock.Available)
			e.ObjEnd()
		})
		return
	case errors.As(err, &failure):
		writePaymentFailure(w, failure)
		return
	}

	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			writeMessage(w, s.status, s.err.Error())
			return
		}
	}

	zctx.From(r.Context()).Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// writePaymentFailure reports a failed charge. The payment service already
// logged it.
func writePaymentFailure(w http.ResponseWriter, f *payment.Failure) {
	writeJSON(w, http.StatusPaymentRequired, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusPaymentRequired)
		e.FieldStart("kind")
		e.Str(string(f.Kind))
		e.FieldStart("message")
		e.Str(f.CustomerMessage())
		e.ObjEnd()
	})
}
