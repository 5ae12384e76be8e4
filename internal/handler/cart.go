package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/order"
)

var actionMessages = map[order.Action]string{
	order.ActionAdd:    "Item added to cart.",
	order.ActionRemove: "Item removed from cart.",
	order.ActionClear:  "Item cleared from cart.",
}

// getCart shows the open order. Anonymous visitors get an empty cart.
func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, ok := customerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, encodeEmptyCart)
		return
	}
	o, err := h.cart.GetOrCreateOpen(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID int64
		action    = order.ActionAdd
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			v, err := decodeInt64(d)
			productID = v
			return err
		case "action":
			v, err := d.Str()
			action = order.Action(strings.ToLower(strings.TrimSpace(v)))
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if productID <= 0 {
		writeError(w, r, badRequest("productId is required"))
		return
	}
	msg, ok := actionMessages[action]
	if !ok {
		writeError(w, r, order.ErrUnknownAction)
		return
	}

	o, err := h.cart.UpdateItem(r.Context(), mustCustomer(r).ID, productID, action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str(msg)
		e.FieldStart("cart")
		h.encodeOrder(e, o)
		e.ObjEnd()
	})
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		code = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.cart.ApplyCoupon(r.Context(), mustCustomer(r).ID, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var form order.CheckoutForm
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "shipping":
			return decodeSelection(d, &form.Shipping)
		case "billing":
			return decodeSelection(d, &form.Billing)
		case "sameBillingAsShipping":
			v, err := d.Bool()
			form.SameBillingAsShipping = v
			return err
		case "paymentOption":
			v, err := d.Str()
			form.PaymentOption = order.PaymentOption(strings.ToLower(strings.TrimSpace(v)))
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.cart.Checkout(r.Context(), mustCustomer(r).ID, form)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	orders, err := h.cart.History(r.Context(), mustCustomer(r).ID)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "order history"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			h.encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) capturePayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var token string
	err = decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "token" {
			return d.Skip()
		}
		v, err := d.Str()
		token = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	receipt, err := h.payments.Capture(r.Context(), mustCustomer(r).ID, orderID, token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		h.encodeReceipt(e, receipt)
	})
}

func (h *Handler) writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

// decodeSelection reads an address choice: either {"useDefault": true} or
// the address fields, optionally with "setDefault".
func decodeSelection(d *jx.Decoder, sel *address.Selection) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "useDefault":
			v, err := d.Bool()
			sel.UseDefault = v
			return err
		case "setDefault":
			v, err := d.Bool()
			sel.SetDefault = v
			return err
		default:
			return decodeField(d, key, &sel.Fields)
		}
	})
}

func decodeField(d *jx.Decoder, key string, f *address.Fields) error {
	var dst *string
	switch key {
	case "street":
		dst = &f.Street
	case "apartment":
		dst = &f.Apartment
	case "city":
		dst = &f.City
	case "country":
		dst = &f.Country
	case "zip":
		dst = &f.Zip
	default:
		return d.Skip()
	}
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}
