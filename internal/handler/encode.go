package handler

import (
	"strings"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/refund"
)

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("slug")
	e.Str(p.Slug)
	e.FieldStart("brand")
	e.Str(p.Brand)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("image")
	e.Str(h.imageURL(p.Image))
	e.FieldStart("price")
	money(e, p.Price)
	if p.DiscountPrice.Valid {
		e.FieldStart("discountPrice")
		money(e, p.DiscountPrice.Decimal)
	}
	e.FieldStart("availableQuantity")
	e.Int(p.AvailableQuantity)
	e.FieldStart("digital")
	e.Bool(p.Digital)
	e.ObjEnd()
}

// encodeEmptyCart is the cart view for anonymous visitors.
func encodeEmptyCart(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	e.ArrEnd()
	e.FieldStart("itemCount")
	e.Int(0)
	e.FieldStart("subtotal")
	e.Num(jx.Num("0.00"))
	e.FieldStart("discount")
	e.Num(jx.Num("0.00"))
	e.FieldStart("total")
	e.Num(jx.Num("0.00"))
	e.FieldStart("requiresShipping")
	e.Bool(false)
	e.ObjEnd()
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product")
		h.encodeProduct(e, it.Product)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("total")
		money(e, it.Total())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("itemCount")
	e.Int(o.ItemCount())
	e.FieldStart("subtotal")
	money(e, o.Subtotal())
	e.FieldStart("discount")
	money(e, o.Discount())
	e.FieldStart("total")
	money(e, o.CartTotal())
	e.FieldStart("requiresShipping")
	e.Bool(o.RequiresShipping())

	if o.Coupon != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(o.Coupon.Code)
		e.FieldStart("amount")
		money(e, o.Coupon.Amount)
		e.ObjEnd()
	}
	if o.ShippingAddress != nil {
		e.FieldStart("shippingAddress")
		encodeAddress(e, *o.ShippingAddress)
	}
	if o.BillingAddress != nil {
		e.FieldStart("billingAddress")
		encodeAddress(e, *o.BillingAddress)
	}
	if o.PaymentOption != "" {
		e.FieldStart("paymentOption")
		e.Str(string(o.PaymentOption))
	}

	if o.Status == order.StatusComplete {
		e.FieldStart("transactionId")
		e.Str(o.TransactionID)
		if o.CompletedAt != nil {
			e.FieldStart("completedAt")
			encodeTime(e, *o.CompletedAt)
		}
		e.FieldStart("sent")
		e.Bool(o.Sent)
		e.FieldStart("received")
		e.Bool(o.Received)
		e.FieldStart("refundRequested")
		e.Bool(o.RefundRequested)
		e.FieldStart("refundGranted")
		e.Bool(o.RefundGranted)
	}
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, a address.Address) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(a.ID)
	e.FieldStart("type")
	e.Str(string(a.Type))
	e.FieldStart("street")
	e.Str(a.Street)
	if a.Apartment != "" {
		e.FieldStart("apartment")
		e.Str(a.Apartment)
	}
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("country")
	e.Str(a.Country)
	e.FieldStart("zip")
	e.Str(a.Zip)
	e.FieldStart("default")
	e.Bool(a.Default)
	e.ObjEnd()
}

func (h *Handler) encodeReceipt(e *jx.Encoder, rc *payment.Receipt) {
	e.ObjStart()
	e.FieldStart("paymentId")
	e.Int64(rc.Payment.ID)
	e.FieldStart("chargeId")
	e.Str(rc.Payment.ChargeID)
	e.FieldStart("amount")
	money(e, rc.Payment.Amount)
	e.FieldStart("currency")
	e.Str(rc.Payment.Currency)
	e.FieldStart("transactionId")
	e.Str(rc.Order.TransactionID)
	e.FieldStart("order")
	h.encodeOrder(e, rc.Order)
	e.ObjEnd()
}

func encodeRefund(e *jx.Encoder, rf *refund.Refund) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(rf.ID)
	e.FieldStart("email")
	e.Str(rf.Email)
	e.FieldStart("reviewed")
	e.Bool(rf.Reviewed)
	e.FieldStart("accepted")
	e.Bool(rf.Accepted)
	e.FieldStart("createdAt")
	encodeTime(e, rf.CreatedAt)
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
