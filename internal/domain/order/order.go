package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// Status is the persisted lifecycle state of an order.
//
//	open -> charging -> complete
//	charging -> open (charge failed)
type Status string

const (
	StatusOpen     Status = "open"
	StatusCharging Status = "charging"
	StatusComplete Status = "complete"
)

// PaymentOption is the payment method the customer picked at checkout.
type PaymentOption string

const (
	PaymentCard   PaymentOption = "card"
	PaymentPayPal PaymentOption = "paypal"
)

// Valid reports whether o is a supported option.
func (o PaymentOption) Valid() bool {
	return o == PaymentCard || o == PaymentPayPal
}

var (
	ErrNotFound                = errors.New("order not found")
	ErrAlreadyComplete         = errors.New("order already complete")
	ErrNotComplete             = errors.New("order not complete")
	ErrCheckoutInProgress      = errors.New("payment in progress for this order")
	ErrRefundPending           = errors.New("a refund request for this order is awaiting review")
	ErrRefundGranted           = errors.New("order already refunded")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrShippingAddressRequired = errors.New("shipping address required")
	ErrBillingAddressRequired  = errors.New("billing address required")
	ErrInvalidQuantity         = errors.New("quantity must be greater than 0")
	ErrInvalidPaymentOption    = errors.New("invalid payment option")
	ErrUnknownAction           = errors.New("unknown cart action")
)

// OutOfStockError reports a quantity exceeding available stock.
type OutOfStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d: requested %d, only %d available", e.ProductID, e.Requested, e.Available)
}

// Item is one order line. Quantity is always positive.
type Item struct {
	Product  product.Product
	Quantity int
}

// Total returns quantity times unit price.
func (i Item) Total() decimal.Decimal {
	return i.Product.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a customer's cart until it is paid, and a purchase record after.
type Order struct {
	ID              int64
	CustomerID      int64
	Status          Status
	Items           []Item
	Coupon          *coupon.Coupon
	ShippingAddress *address.Address
	BillingAddress  *address.Address
	PaymentOption   PaymentOption
	PaymentID       *int64
	// TransactionID is assigned on completion and identifies the purchase
	// in refund requests.
	TransactionID   string
	ChargingSince   *time.Time
	Sent            bool
	Received        bool
	RefundRequested bool
	RefundGranted   bool
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// DefaultClaimTimeout is how long a charge attempt holds the order when no
// timeout is configured.
const DefaultClaimTimeout = 2 * time.Minute

// Quote is the price of an order computed at charge time.
type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	// AmountMinor is Total in cents.
	AmountMinor int64
}

// Mutable returns an error unless the cart may be edited.
func (o *Order) Mutable() error {
	switch o.Status {
	case StatusComplete:
		return ErrAlreadyComplete
	case StatusCharging:
		return ErrCheckoutInProgress
	}
	return nil
}

func (o *Order) indexOf(productID int64) int {
	for i := range o.Items {
		if o.Items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// Item returns the line for productID.
func (o *Order) Item(productID int64) (Item, bool) {
	if i := o.indexOf(productID); i >= 0 {
		return o.Items[i], true
	}
	return Item{}, false
}

// AddItem raises the quantity of p by delta, creating the line if needed.
// The order is left unchanged when the new quantity exceeds stock.
func (o *Order) AddItem(p product.Product, delta int) error {
	if err := o.Mutable(); err != nil {
		return err
	}
	if delta <= 0 {
		return ErrInvalidQuantity
	}

	i := o.indexOf(p.ID)
	qty := delta
	if i >= 0 {
		qty += o.Items[i].Quantity
	}
	if !p.Stocks(qty) {
		return &OutOfStockError{ProductID: p.ID, Requested: qty, Available: p.AvailableQuantity}
	}

	if i < 0 {
		o.Items = append(o.Items, Item{Product: p, Quantity: qty})
		return nil
	}
	o.Items[i] = Item{Product: p, Quantity: qty}
	return nil
}

// RemoveItem lowers the quantity of a product by delta and drops the line
// once it reaches zero. Removing an absent product is a no-op.
func (o *Order) RemoveItem(productID int64, delta int) error {
	if err := o.Mutable(); err != nil {
		return err
	}
	if delta <= 0 {
		return ErrInvalidQuantity
	}

	i := o.indexOf(productID)
	if i < 0 {
		return nil
	}
	o.Items[i].Quantity -= delta
	if o.Items[i].Quantity <= 0 {
		o.Items = append(o.Items[:i], o.Items[i+1:]...)
	}
	return nil
}

// ClearItem drops the line for productID.
func (o *Order) ClearItem(productID int64) error {
	if err := o.Mutable(); err != nil {
		return err
	}
	if i := o.indexOf(productID); i >= 0 {
		o.Items = append(o.Items[:i], o.Items[i+1:]...)
	}
	return nil
}

// ApplyCoupon attaches c, replacing any earlier coupon.
func (o *Order) ApplyCoupon(c *coupon.Coupon) error {
	if err := o.Mutable(); err != nil {
		return err
	}
	o.Coupon = c
	return nil
}

// Subtotal is the sum of line totals before discounts.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// Discount is the attached coupon amount.
func (o *Order) Discount() decimal.Decimal {
	if o.Coupon == nil {
		return decimal.Zero
	}
	return o.Coupon.Amount
}

// CartTotal is the subtotal minus the discount, floored at zero and rounded
// to cents.
func (o *Order) CartTotal() decimal.Decimal {
	total := o.Subtotal().Sub(o.Discount())
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}

// ItemCount is the sum of line quantities.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// RequiresShipping reports whether any product in the order is physical.
func (o *Order) RequiresShipping() bool {
	for _, it := range o.Items {
		if !it.Product.Digital {
			return true
		}
	}
	return false
}

// ChargeReady checks the preconditions for capturing payment. Items must
// carry fresh product snapshots for the stock check to be meaningful.
func (o *Order) ChargeReady() error {
	if len(o.Items) == 0 {
		return ErrEmptyCart
	}
	if o.RequiresShipping() && o.ShippingAddress == nil {
		return ErrShippingAddressRequired
	}
	if o.BillingAddress == nil {
		return ErrBillingAddressRequired
	}
	for _, it := range o.Items {
		if !it.Product.Stocks(it.Quantity) {
			return &OutOfStockError{
				ProductID: it.Product.ID,
				Requested: it.Quantity,
				Available: it.Product.AvailableQuantity,
			}
		}
	}
	return nil
}

// Price computes the Quote for the current contents.
func (o *Order) Price() Quote {
	total := o.CartTotal()
	return Quote{
		Subtotal:    o.Subtotal().Round(2),
		Discount:    o.Discount().Round(2),
		Total:       total,
		AmountMinor: total.Shift(2).Round(0).IntPart(),
	}
}

// Claimed reports whether a charge attempt started less than timeout ago.
func (o *Order) Claimed(now time.Time, timeout time.Duration) bool {
	return o.Status == StatusCharging && o.ChargingSince != nil && now.Sub(*o.ChargingSince) < timeout
}

// Claim moves the order into charging. A stale claim older than timeout is
// taken over.
func (o *Order) Claim(now time.Time, timeout time.Duration) error {
	switch {
	case o.Status == StatusComplete:
		return ErrAlreadyComplete
	case o.Claimed(now, timeout):
		return ErrCheckoutInProgress
	}
	o.Status = StatusCharging
	o.ChargingSince = &now
	return nil
}

// ReleaseStale reopens an order whose charge attempt started at least
// timeout ago, so a crashed capture cannot lock the cart. It reports whether
// the order changed.
func (o *Order) ReleaseStale(now time.Time, timeout time.Duration) bool {
	if o.Status != StatusCharging || o.Claimed(now, timeout) {
		return false
	}
	o.Release()
	return true
}

// Release returns a charging order to open after a failed charge.
func (o *Order) Release() {
	if o.Status != StatusCharging {
		return
	}
	o.Status = StatusOpen
	o.ChargingSince = nil
}

// Complete marks a paid order.
func (o *Order) Complete(transactionID string, paymentID int64, now time.Time) error {
	if o.Status == StatusComplete {
		return ErrAlreadyComplete
	}
	o.Status = StatusComplete
	o.TransactionID = transactionID
	o.PaymentID = &paymentID
	o.ChargingSince = nil
	o.CompletedAt = &now
	return nil
}

// RequestRefund flags a completed order for refund review. Only one request
// may be pending at a time.
func (o *Order) RequestRefund() error {
	switch {
	case o.Status != StatusComplete:
		return ErrNotComplete
	case o.RefundGranted:
		return ErrRefundGranted
	case o.RefundRequested:
		return ErrRefundPending
	}
	o.RefundRequested = true
	return nil
}

// GrantRefund settles an accepted refund request.
func (o *Order) GrantRefund() error {
	if o.Status != StatusComplete {
		return ErrNotComplete
	}
	o.RefundRequested = false
	o.RefundGranted = true
	return nil
}

// DenyRefund closes a rejected refund request.
func (o *Order) DenyRefund() error {
	if o.Status != StatusComplete {
		return ErrNotComplete
	}
	o.RefundRequested = false
	return nil
}

// MarkSent records that a completed order was shipped.
func (o *Order) MarkSent() error {
	if o.Status != StatusComplete {
		return ErrNotComplete
	}
	o.Sent = true
	return nil
}

// MarkReceived records delivery of a completed order.
func (o *Order) MarkReceived() error {
	if o.Status != StatusComplete {
		return ErrNotComplete
	}
	o.Received = true
	return nil
}

// Repository persists orders. Lock methods take a row lock held until the
// surrounding transaction ends.
type Repository interface {
	// LockOpen returns the customer's non-complete order, creating an empty
	// one if none exists. Concurrent callers get the same order.
	LockOpen(ctx context.Context, customerID int64) (*Order, error)
	LockByID(ctx context.Context, id int64) (*Order, error)
	// LockByTransactionID finds a completed order by its transaction id.
	LockByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	// Save writes the order state. Items are replaced while the order is
	// not complete.
	Save(ctx context.Context, o *Order) error
	ListCompleted(ctx context.Context, customerID int64) ([]Order, error)
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
