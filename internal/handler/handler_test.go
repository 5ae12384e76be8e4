package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/address"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/refund"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	listErr  error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetBySlug(_ context.Context, slug string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].Slug == slug {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

type mockCustomers struct {
	subjects []string
	err      error
}

func (m *mockCustomers) EnsureBySubject(_ context.Context, subject, email string) (*customer.Customer, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.subjects = append(m.subjects, subject)
	return &customer.Customer{ID: 42, Subject: subject, Email: email}, nil
}

type mockCart struct {
	order      *order.Order
	err        error
	customerID int64
	productID  int64
	action     order.Action
	code       string
	form       order.CheckoutForm
	history    []order.Order
}

func (m *mockCart) GetOrCreateOpen(_ context.Context, customerID int64) (*order.Order, error) {
	m.customerID = customerID
	return m.order, m.err
}

func (m *mockCart) UpdateItem(_ context.Context, customerID, productID int64, action order.Action) (*order.Order, error) {
	m.customerID, m.productID, m.action = customerID, productID, action
	return m.order, m.err
}

func (m *mockCart) ApplyCoupon(_ context.Context, customerID int64, code string) (*order.Order, error) {
	m.customerID, m.code = customerID, code
	return m.order, m.err
}

func (m *mockCart) Checkout(_ context.Context, customerID int64, form order.CheckoutForm) (*order.Order, error) {
	m.customerID, m.form = customerID, form
	return m.order, m.err
}

func (m *mockCart) History(_ context.Context, customerID int64) ([]order.Order, error) {
	m.customerID = customerID
	return m.history, m.err
}

type mockAddresses struct {
	added      *address.Address
	err        error
	setDefault bool
}

func (m *mockAddresses) List(_ context.Context, _ int64) ([]address.Address, error) {
	if m.added == nil {
		return nil, m.err
	}
	return []address.Address{*m.added}, m.err
}

func (m *mockAddresses) Add(_ context.Context, customerID int64, t address.Type, f address.Fields, setDefault bool) (*address.Address, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !t.Valid() {
		return nil, address.ErrInvalidType
	}
	if err := f.Validate(t); err != nil {
		return nil, err
	}
	m.setDefault = setDefault
	m.added = &address.Address{ID: 9, CustomerID: customerID, Type: t, Fields: f, Default: setDefault}
	return m.added, nil
}

func (m *mockAddresses) SetDefault(_ context.Context, _, id int64) (*address.Address, error) {
	if m.added == nil || m.added.ID != id {
		return nil, address.ErrNotFound
	}
	m.added.Default = true
	return m.added, nil
}

type mockPayments struct {
	receipt *payment.Receipt
	err     error
	token   string
	orderID int64
}

func (m *mockPayments) Capture(_ context.Context, _, orderID int64, token string) (*payment.Receipt, error) {
	m.orderID, m.token = orderID, token
	return m.receipt, m.err
}

type mockRefunds struct {
	form   refund.Form
	accept bool
	err    error
}

func (m *mockRefunds) Request(_ context.Context, f refund.Form) (*refund.Refund, error) {
	m.form = f
	if m.err != nil {
		return nil, m.err
	}
	return &refund.Refund{ID: 3, Email: f.Email, CreatedAt: time.Unix(0, 0)}, nil
}

func (m *mockRefunds) Review(_ context.Context, id int64, accept bool) (*refund.Refund, error) {
	m.accept = accept
	if m.err != nil {
		return nil, m.err
	}
	return &refund.Refund{ID: id, Reviewed: true, Accepted: accept}, nil
}

type mockFulfillment struct {
	order *order.Order
	err   error
}

func (m *mockFulfillment) MarkSent(_ context.Context, _ int64) (*order.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.order.Sent = true
	return m.order, nil
}

func (m *mockFulfillment) MarkReceived(_ context.Context, _ int64) (*order.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.order.Received = true
	return m.order, nil
}

type mockAuth struct{}

func (mockAuth) Authenticate(_ context.Context, key, scope string) (*auth.APIKeyInfo, error) {
	if key != "secret" || scope != auth.ScopeAdmin {
		return nil, auth.ErrUnauthorized
	}
	return &auth.APIKeyInfo{ID: "ops", Scopes: []string{auth.ScopeAdmin}}, nil
}

// --- Helpers ---

type fixture struct {
	products    *mockProductRepo
	customers   *mockCustomers
	cart        *mockCart
	addresses   *mockAddresses
	payments    *mockPayments
	refunds     *mockRefunds
	fulfillment *mockFulfillment
	srv         http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		products: &mockProductRepo{products: []product.Product{
			{
				ID:                1,
				Name:              "Widget",
				Slug:              "widget",
				Image:             "widget.png",
				Price:             decimal.RequireFromString("12.00"),
				AvailableQuantity: 5,
			},
		}},
		customers:   &mockCustomers{},
		cart:        &mockCart{order: &order.Order{ID: 7, CustomerID: 42, Status: order.StatusOpen}},
		addresses:   &mockAddresses{},
		payments:    &mockPayments{},
		refunds:     &mockRefunds{},
		fulfillment: &mockFulfillment{order: &order.Order{ID: 7, Status: order.StatusComplete}},
	}
	h := NewHandler(Config{ImageBaseURL: "https://cdn.example.com/"}, Deps{
		Products:    f.products,
		Customers:   f.customers,
		Cart:        f.cart,
		Addresses:   f.addresses,
		Payments:    f.payments,
		Refunds:     f.refunds,
		Fulfillment: f.fulfillment,
		Auth:        mockAuth{},
	})
	f.srv = h.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

var asCustomer = []string{HeaderSubject, "user-1", headerEmail, "user@example.com"}

// --- Tests ---

func TestListProducts(t *testing.T) {
	f := newFixture()
	w, _ := f.do(t, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, float64(1), list[0]["id"])
	assert.Equal(t, float64(12), list[0]["price"])
	assert.Equal(t, "https://cdn.example.com/widget.png", list[0]["image"])
	assert.NotContains(t, list[0], "discountPrice")
}

func TestListProducts_Error(t *testing.T) {
	f := newFixture()
	f.products.listErr = errors.New("db down")

	w, body := f.do(t, http.MethodGet, "/api/products", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", body["message"])
}

func TestGetProduct(t *testing.T) {
	f := newFixture()

	tests := []struct {
		path string
		want int
	}{
		{path: "/api/products/1", want: http.StatusOK},
		{path: "/api/products/slug/widget", want: http.StatusOK},
		{path: "/api/products/99", want: http.StatusNotFound},
		{path: "/api/products/slug/nope", want: http.StatusNotFound},
		{path: "/api/products/abc", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w, _ := f.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGetCart_Anonymous(t *testing.T) {
	f := newFixture()
	w, body := f.do(t, http.MethodGet, "/api/cart", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["itemCount"])
	assert.Equal(t, float64(0), body["total"])
	assert.Empty(t, f.customers.subjects)
}

func TestGetCart_Customer(t *testing.T) {
	f := newFixture()
	p := f.products.products[0]
	f.cart.order.Items = []order.Item{{Product: p, Quantity: 2}}

	w, body := f.do(t, http.MethodGet, "/api/cart", "", asCustomer...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"user-1"}, f.customers.subjects)
	assert.Equal(t, int64(42), f.cart.customerID)
	assert.Equal(t, float64(2), body["itemCount"])
	assert.Equal(t, float64(24), body["total"])
	assert.Equal(t, true, body["requiresShipping"])
}

func TestMutationsRequireCustomer(t *testing.T) {
	f := newFixture()
	for _, path := range []string{"/api/cart/items", "/api/cart/coupon", "/api/checkout", "/api/orders/7/payment"} {
		w, _ := f.do(t, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestUpdateCartItem(t *testing.T) {
	f := newFixture()

	w, body := f.do(t, http.MethodPost, "/api/cart/items", `{"productId": 1, "action": "remove"}`, asCustomer...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Item removed from cart.", body["message"])
	assert.Contains(t, body, "cart")
	assert.Equal(t, int64(1), f.cart.productID)
	assert.Equal(t, order.ActionRemove, f.cart.action)
}

func TestUpdateCartItem_DefaultsToAdd(t *testing.T) {
	f := newFixture()

	w, _ := f.do(t, http.MethodPost, "/api/cart/items", `{"productId": "1"}`, asCustomer...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.ActionAdd, f.cart.action)
}

func TestUpdateCartItem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		cartErr error
		want    int
	}{
		{name: "invalid json", body: `{"productId":`, want: http.StatusBadRequest},
		{name: "empty body", body: ``, want: http.StatusBadRequest},
		{name: "missing product", body: `{"action":"add"}`, want: http.StatusBadRequest},
		{name: "unknown action", body: `{"productId":1,"action":"explode"}`, want: http.StatusBadRequest},
		{name: "unknown product", body: `{"productId":1}`, cartErr: product.ErrNotFound, want: http.StatusNotFound},
		{
			name:    "out of stock",
			body:    `{"productId":1}`,
			cartErr: &order.OutOfStockError{ProductID: 1, Requested: 2, Available: 1},
			want:    http.StatusConflict,
		},
		{name: "checkout in progress", body: `{"productId":1}`, cartErr: order.ErrCheckoutInProgress, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cart.err = tt.cartErr
			w, _ := f.do(t, http.MethodPost, "/api/cart/items", tt.body, asCustomer...)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestApplyCoupon(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "applied", want: http.StatusOK},
		{name: "unknown", err: coupon.ErrNotFound, want: http.StatusNotFound},
		{name: "already used", err: errors.Wrap(coupon.ErrAlreadyUsed, "apply coupon"), want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cart.err = tt.err
			w, body := f.do(t, http.MethodPost, "/api/cart/coupon", `{"code":"SAVE5"}`, asCustomer...)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "SAVE5", f.cart.code)
			if tt.err != nil {
				assert.NotEqual(t, "internal server error", body["message"])
			}
		})
	}
}

func TestCheckout_DecodesForm(t *testing.T) {
	f := newFixture()
	body := `{
		"shipping": {"street": "1 Main St", "city": "Springfield", "country": "US", "zip": "12345", "setDefault": true},
		"billing": {"useDefault": true},
		"sameBillingAsShipping": false,
		"paymentOption": "PayPal"
	}`

	w, _ := f.do(t, http.MethodPost, "/api/checkout", body, asCustomer...)
	require.Equal(t, http.StatusOK, w.Code)

	form := f.cart.form
	assert.Equal(t, "1 Main St", form.Shipping.Fields.Street)
	assert.True(t, form.Shipping.SetDefault)
	assert.True(t, form.Billing.UseDefault)
	assert.Equal(t, order.PaymentPayPal, form.PaymentOption)
}

func TestCheckout_ValidationError(t *testing.T) {
	f := newFixture()
	f.cart.err = &address.ValidationError{Type: address.TypeBilling, Missing: []string{"street", "city"}}

	w, body := f.do(t, http.MethodPost, "/api/checkout", `{"paymentOption":"card"}`, asCustomer...)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "billing address: missing street, city", body["message"])
}

func TestCapturePayment(t *testing.T) {
	f := newFixture()
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.payments.receipt = &payment.Receipt{
		Payment: &payment.Payment{ID: 5, ChargeID: "ch_1", Amount: decimal.RequireFromString("43.00"), Currency: "USD"},
		Order:   &order.Order{ID: 7, Status: order.StatusComplete, TransactionID: "tx-1", CompletedAt: &completed},
	}

	w, body := f.do(t, http.MethodPost, "/api/orders/7/payment", `{"token":"tok_visa"}`, asCustomer...)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(7), f.payments.orderID)
	assert.Equal(t, "tok_visa", f.payments.token)
	assert.Equal(t, "tx-1", body["transactionId"])
	assert.Equal(t, float64(43), body["amount"])
}

func TestCapturePayment_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantKind string
	}{
		{
			name:     "declined",
			err:      payment.NewFailure(payment.CardDeclined, "", nil),
			want:     http.StatusPaymentRequired,
			wantKind: "card_declined",
		},
		{
			name:     "rate limited",
			err:      payment.NewFailure(payment.RateLimited, "", nil),
			want:     http.StatusPaymentRequired,
			wantKind: "rate_limited",
		},
		{name: "in progress", err: payment.ErrPaymentInProgress, want: http.StatusConflict},
		{name: "complete", err: order.ErrAlreadyComplete, want: http.StatusConflict},
		{name: "foreign order", err: order.ErrNotFound, want: http.StatusNotFound},
		{name: "missing token", err: payment.ErrMissingToken, want: http.StatusUnprocessableEntity},
		{name: "no billing", err: order.ErrBillingAddressRequired, want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.payments.err = tt.err
			w, body := f.do(t, http.MethodPost, "/api/orders/7/payment", `{"token":"x"}`, asCustomer...)
			assert.Equal(t, tt.want, w.Code)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, body["kind"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestAddresses(t *testing.T) {
	f := newFixture()

	w, body := f.do(t, http.MethodPost, "/api/addresses",
		`{"type":"shipping","street":"1 Main","city":"X","country":"US","zip":null,"default":true}`, asCustomer...)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(9), body["id"])
	assert.True(t, f.addresses.setDefault)

	w, _ = f.do(t, http.MethodPost, "/api/addresses", `{"type":"shipping","street":"1 Main"}`, asCustomer...)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/addresses", `{"type":"home","street":"a","city":"b","country":"c"}`, asCustomer...)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/addresses", "", asCustomer...)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/addresses/9/default", "", asCustomer...)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/addresses/10/default", "", asCustomer...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderHistory(t *testing.T) {
	f := newFixture()
	f.cart.history = []order.Order{{ID: 1, Status: order.StatusComplete, TransactionID: "a"}}

	w, _ := f.do(t, http.MethodGet, "/api/orders", "", asCustomer...)
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0]["transactionId"])
}

func TestRequestRefund(t *testing.T) {
	f := newFixture()
	w, body := f.do(t, http.MethodPost, "/api/refunds",
		`{"transactionId":"tx-1","message":"broken","email":"a@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tx-1", f.refunds.form.TransactionID)
	assert.Equal(t, false, body["accepted"])

	f.refunds.err = refund.ErrOrderNotFound
	w, _ = f.do(t, http.MethodPost, "/api/refunds", `{"transactionId":"nope","message":"m","email":"a@example.com"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.refunds.err = &refund.ValidationError{Field: "email", Reason: "invalid address"}
	w, _ = f.do(t, http.MethodPost, "/api/refunds", `{"transactionId":"tx","message":"m","email":"bad"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	for _, err := range []error{order.ErrRefundPending, order.ErrRefundGranted} {
		f.refunds.err = err
		w, _ = f.do(t, http.MethodPost, "/api/refunds", `{"transactionId":"tx-1","message":"m","email":"a@example.com"}`)
		assert.Equal(t, http.StatusConflict, w.Code, err.Error())
	}
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	f := newFixture()

	w, _ := f.do(t, http.MethodPost, "/api/admin/refunds/3/review", `{"accept":true}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/admin/refunds/3/review", `{"accept":true}`, headerAPIKey, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := f.do(t, http.MethodPost, "/api/admin/refunds/3/review", `{"accept":true}`, headerAPIKey, "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.refunds.accept)
	assert.Equal(t, true, body["reviewed"])

	w, _ = f.do(t, http.MethodPost, "/api/admin/refunds/3/review", `{}`, headerAPIKey, "secret")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Fulfillment(t *testing.T) {
	f := newFixture()

	w, body := f.do(t, http.MethodPost, "/api/admin/orders/7/sent", "", headerAPIKey, "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["sent"])

	w, body = f.do(t, http.MethodPost, "/api/admin/orders/7/received", "", headerAPIKey, "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["received"])

	f.fulfillment.err = order.ErrNotComplete
	w, _ = f.do(t, http.MethodPost, "/api/admin/orders/7/sent", "", headerAPIKey, "secret")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIdentify_CustomerLookupFails(t *testing.T) {
	f := newFixture()
	f.customers.err = errors.New("db down")

	w, _ := f.do(t, http.MethodGet, "/api/cart", "", asCustomer...)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture()
	w, body := f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route not found", body["message"])
}
