package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

func newTestProduct(id int64, price string, stock int) product.Product {
	return product.Product{
		ID:                id,
		Name:              "Product",
		Slug:              "product",
		Price:             decimal.RequireFromString(price),
		AvailableQuantity: stock,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrder_AddItem(t *testing.T) {
	p := newTestProduct(1, "10.00", 3)
	o := &Order{Status: StatusOpen}

	require.NoError(t, o.AddItem(p, 1))
	require.NoError(t, o.AddItem(p, 2))

	it, ok := o.Item(1)
	require.True(t, ok)
	assert.Equal(t, 3, it.Quantity)
	assert.Len(t, o.Items, 1, "same product never gets a second line")
}

func TestOrder_AddItem_OutOfStock(t *testing.T) {
	p := newTestProduct(1, "10.00", 1)
	o := &Order{Status: StatusOpen}

	require.NoError(t, o.AddItem(p, 1))

	err := o.AddItem(p, 1)
	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, int64(1), oos.ProductID)
	assert.Equal(t, 2, oos.Requested)
	assert.Equal(t, 1, oos.Available)

	it, _ := o.Item(1)
	assert.Equal(t, 1, it.Quantity, "rejected add leaves quantity unchanged")
}

func TestOrder_AddItem_NoStockNewLine(t *testing.T) {
	o := &Order{Status: StatusOpen}
	err := o.AddItem(newTestProduct(1, "10.00", 0), 1)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Empty(t, o.Items)
}

func TestOrder_AddRemoveRoundTrip(t *testing.T) {
	p := newTestProduct(1, "10.00", 10)
	o := &Order{Status: StatusOpen}
	require.NoError(t, o.AddItem(p, 2))

	require.NoError(t, o.AddItem(p, 3))
	require.NoError(t, o.RemoveItem(p.ID, 3))

	it, ok := o.Item(p.ID)
	require.True(t, ok)
	assert.Equal(t, 2, it.Quantity)
}

func TestOrder_RemoveItem_DeletesAtZero(t *testing.T) {
	p := newTestProduct(1, "10.00", 10)
	o := &Order{Status: StatusOpen}
	require.NoError(t, o.AddItem(p, 1))

	require.NoError(t, o.RemoveItem(p.ID, 5))
	_, ok := o.Item(p.ID)
	assert.False(t, ok)
	assert.Empty(t, o.Items)

	require.NoError(t, o.RemoveItem(p.ID, 1), "removing an absent product is a no-op")
}

func TestOrder_ClearItem(t *testing.T) {
	a := newTestProduct(1, "10.00", 10)
	b := newTestProduct(2, "5.00", 10)
	o := &Order{Status: StatusOpen}
	require.NoError(t, o.AddItem(a, 4))
	require.NoError(t, o.AddItem(b, 1))

	require.NoError(t, o.ClearItem(a.ID))
	assert.Len(t, o.Items, 1)
	assert.Equal(t, int64(2), o.Items[0].Product.ID)
}

func TestOrder_InvalidDelta(t *testing.T) {
	o := &Order{Status: StatusOpen}
	require.ErrorIs(t, o.AddItem(newTestProduct(1, "1", 5), 0), ErrInvalidQuantity)
	require.ErrorIs(t, o.RemoveItem(1, -1), ErrInvalidQuantity)
}

func TestOrder_MutationsRejectedOutsideOpen(t *testing.T) {
	p := newTestProduct(1, "10.00", 10)

	complete := &Order{Status: StatusComplete}
	require.ErrorIs(t, complete.AddItem(p, 1), ErrAlreadyComplete)
	require.ErrorIs(t, complete.ApplyCoupon(&coupon.Coupon{}), ErrAlreadyComplete)

	charging := &Order{Status: StatusCharging}
	require.ErrorIs(t, charging.AddItem(p, 1), ErrCheckoutInProgress)
	require.ErrorIs(t, charging.ClearItem(1), ErrCheckoutInProgress)
}

func TestOrder_Totals(t *testing.T) {
	// Two units at 10.00 and one at 4.00, matching the storefront walkthrough.
	o := &Order{Status: StatusOpen}
	require.NoError(t, o.AddItem(newTestProduct(1, "10.00", 5), 2))
	require.NoError(t, o.AddItem(newTestProduct(2, "4.00", 5), 1))

	assert.Equal(t, 3, o.ItemCount())
	assert.True(t, dec("24").Equal(o.CartTotal()), "got %s", o.CartTotal())

	require.NoError(t, o.ApplyCoupon(&coupon.Coupon{ID: 1, Code: "FIVE", Amount: dec("5")}))
	assert.True(t, dec("19").Equal(o.CartTotal()), "got %s", o.CartTotal())

	require.NoError(t, o.ApplyCoupon(&coupon.Coupon{ID: 2, Code: "THIRTY", Amount: dec("30")}))
	assert.True(t, decimal.Zero.Equal(o.CartTotal()), "total is floored at zero")
}

func TestOrder_CartTotalUsesDiscountPrice(t *testing.T) {
	p := newTestProduct(1, "10.00", 5)
	p.DiscountPrice = decimal.NewNullDecimal(dec("7.333"))
	o := &Order{Status: StatusOpen}
	require.NoError(t, o.AddItem(p, 3))

	assert.Equal(t, "22.00", o.CartTotal().StringFixed(2))
	q := o.Price()
	assert.Equal(t, int64(2200), q.AmountMinor)
}

func TestOrder_RequiresShipping(t *testing.T) {
	digital := newTestProduct(1, "3.00", 5)
	digital.Digital = true
	physical := newTestProduct(2, "3.00", 5)

	o := &Order{Status: StatusOpen}
	require.NoError(t, o.AddItem(digital, 1))
	assert.False(t, o.RequiresShipping())

	require.NoError(t, o.AddItem(physical, 1))
	assert.True(t, o.RequiresShipping())
}

func TestOrder_ChargeReady(t *testing.T) {
	ship := &address.Address{ID: 1, Type: address.TypeShipping}
	bill := &address.Address{ID: 2, Type: address.TypeBilling}
	physical := newTestProduct(1, "3.00", 5)
	digital := newTestProduct(2, "3.00", 5)
	digital.Digital = true

	tests := []struct {
		name    string
		order   *Order
		wantErr error
	}{
		{
			name:    "empty cart",
			order:   &Order{Status: StatusOpen, ShippingAddress: ship, BillingAddress: bill},
			wantErr: ErrEmptyCart,
		},
		{
			name:    "missing shipping for physical goods",
			order:   &Order{Items: []Item{{Product: physical, Quantity: 1}}, BillingAddress: bill},
			wantErr: ErrShippingAddressRequired,
		},
		{
			name:    "missing billing",
			order:   &Order{Items: []Item{{Product: physical, Quantity: 1}}, ShippingAddress: ship},
			wantErr: ErrBillingAddressRequired,
		},
		{
			name:  "digital goods need no shipping",
			order: &Order{Items: []Item{{Product: digital, Quantity: 1}}, BillingAddress: bill},
		},
		{
			name:  "ready",
			order: &Order{Items: []Item{{Product: physical, Quantity: 5}}, ShippingAddress: ship, BillingAddress: bill},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.ChargeReady()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOrder_ChargeReady_StockDropped(t *testing.T) {
	p := newTestProduct(1, "3.00", 1)
	o := &Order{
		Items:           []Item{{Product: p, Quantity: 2}},
		ShippingAddress: &address.Address{},
		BillingAddress:  &address.Address{},
	}
	var oos *OutOfStockError
	require.ErrorAs(t, o.ChargeReady(), &oos)
}

func TestOrder_ClaimLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeout := 5 * time.Minute
	o := &Order{Status: StatusOpen}

	require.NoError(t, o.Claim(now, timeout))
	assert.Equal(t, StatusCharging, o.Status)
	require.ErrorIs(t, o.Claim(now.Add(time.Minute), timeout), ErrCheckoutInProgress)

	// A stale claim can be taken over.
	later := now.Add(10 * time.Minute)
	require.NoError(t, o.Claim(later, timeout))
	assert.Equal(t, later, *o.ChargingSince)

	o.Release()
	assert.Equal(t, StatusOpen, o.Status)
	assert.Nil(t, o.ChargingSince)

	require.NoError(t, o.Claim(later, timeout))
	require.NoError(t, o.Complete("tx-1", 9, later))
	assert.Equal(t, StatusComplete, o.Status)
	assert.Equal(t, "tx-1", o.TransactionID)
	require.ErrorIs(t, o.Claim(later, timeout), ErrAlreadyComplete)
	require.ErrorIs(t, o.Complete("tx-2", 10, later), ErrAlreadyComplete)
}

func TestOrder_ReleaseStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeout := 5 * time.Minute
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name     string
		order    Order
		released bool
	}{
		{name: "Open", order: Order{Status: StatusOpen}},
		{name: "FreshClaim", order: Order{Status: StatusCharging, ChargingSince: at(time.Minute)}},
		{name: "ExpiredClaim", order: Order{Status: StatusCharging, ChargingSince: at(timeout)}, released: true},
		{name: "DayOldClaim", order: Order{Status: StatusCharging, ChargingSince: at(24 * time.Hour)}, released: true},
		{name: "ClaimWithoutTimestamp", order: Order{Status: StatusCharging}, released: true},
		{name: "Complete", order: Order{Status: StatusComplete}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			before := o.Status
			assert.Equal(t, tt.released, o.ReleaseStale(now, timeout))
			if tt.released {
				assert.Equal(t, StatusOpen, o.Status)
				assert.Nil(t, o.ChargingSince)
				assert.NoError(t, o.Mutable())
			} else {
				assert.Equal(t, before, o.Status)
			}
		})
	}
}

func TestOrder_RefundAndFulfillmentFlags(t *testing.T) {
	open := &Order{Status: StatusOpen}
	require.ErrorIs(t, open.RequestRefund(), ErrNotComplete)
	require.ErrorIs(t, open.MarkSent(), ErrNotComplete)

	o := &Order{Status: StatusComplete}
	require.NoError(t, o.MarkSent())
	require.NoError(t, o.MarkReceived())
	require.NoError(t, o.RequestRefund())
	assert.True(t, o.RefundRequested)
	require.ErrorIs(t, o.RequestRefund(), ErrRefundPending)

	require.NoError(t, o.DenyRefund())
	require.NoError(t, o.RequestRefund(), "a rejected request may be repeated")

	require.NoError(t, o.GrantRefund())
	assert.False(t, o.RefundRequested)
	assert.True(t, o.RefundGranted)
	require.ErrorIs(t, o.RequestRefund(), ErrRefundGranted)
	assert.True(t, o.Sent)
	assert.True(t, o.Received)
}
