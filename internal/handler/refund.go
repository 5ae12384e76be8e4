package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/refund"
)

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var form refund.Form
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "transactionId":
			dst = &form.TransactionID
		case "message":
			dst = &form.Message
		case "email":
			dst = &form.Email
		default:
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	rf, err := h.refunds.Request(r.Context(), form)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeRefund(e, rf)
	})
}

func (h *Handler) reviewRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		accept bool
		seen   bool
	)
	err = decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "accept" {
			return d.Skip()
		}
		seen = true
		v, err := d.Bool()
		accept = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !seen {
		writeError(w, r, badRequest("accept is required"))
		return
	}

	rf, err := h.refunds.Review(r.Context(), id, accept)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeRefund(e, rf)
	})
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	h.fulfill(w, r, h.fulfillment.MarkSent)
}

func (h *Handler) markReceived(w http.ResponseWriter, r *http.Request) {
	h.fulfill(w, r, h.fulfillment.MarkReceived)
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID int64) (*order.Order, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}
