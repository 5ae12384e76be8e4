package refund

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockOrders struct {
	byID map[int64]*order.Order
}

func (m *mockOrders) LockOpen(context.Context, int64) (*order.Order, error) {
	return nil, errors.New("not implemented")
}

func (m *mockOrders) LockByID(_ context.Context, id int64) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *mockOrders) LockByTransactionID(_ context.Context, txID string) (*order.Order, error) {
	for _, o := range m.byID {
		if o.TransactionID != "" && o.TransactionID == txID {
			c := *o
			return &c, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) Save(_ context.Context, o *order.Order) error {
	c := *o
	m.byID[o.ID] = &c
	return nil
}

func (m *mockOrders) ListCompleted(context.Context, int64) ([]order.Order, error) {
	return nil, nil
}

type mockRefunds struct {
	items []*Refund
}

func (m *mockRefunds) Create(_ context.Context, r *Refund) error {
	r.ID = int64(len(m.items) + 1)
	c := *r
	m.items = append(m.items, &c)
	return nil
}

func (m *mockRefunds) Lock(_ context.Context, id int64) (*Refund, error) {
	for _, r := range m.items {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRefunds) Save(_ context.Context, r *Refund) error {
	for i, cur := range m.items {
		if cur.ID == r.ID {
			c := *r
			m.items[i] = &c
			return nil
		}
	}
	return ErrNotFound
}

func newFixture() (*Service, *mockOrders, *mockRefunds) {
	orders := &mockOrders{byID: map[int64]*order.Order{
		1: {ID: 1, CustomerID: 7, Status: order.StatusComplete, TransactionID: "tx-complete"},
		2: {ID: 2, CustomerID: 7, Status: order.StatusOpen},
	}}
	refunds := &mockRefunds{}
	return NewService(orders, refunds, passTx{}), orders, refunds
}

func TestForm_Validate(t *testing.T) {
	tests := []struct {
		name  string
		form  Form
		field string
	}{
		{name: "ok", form: Form{TransactionID: "tx", Message: "broken", Email: "a@example.com"}},
		{name: "no transaction", form: Form{Message: "broken", Email: "a@example.com"}, field: "transactionId"},
		{name: "no message", form: Form{TransactionID: "tx", Message: " ", Email: "a@example.com"}, field: "message"},
		{name: "bad email", form: Form{TransactionID: "tx", Message: "broken", Email: "nope"}, field: "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestService_Request(t *testing.T) {
	svc, orders, refunds := newFixture()

	r, err := svc.Request(context.Background(), Form{
		TransactionID: "tx-complete",
		Message:       "Arrived broken",
		Email:         "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.OrderID)
	assert.False(t, r.Accepted)
	assert.True(t, orders.byID[1].RefundRequested)
	assert.Len(t, refunds.items, 1)
}

func TestService_Request_UnknownTransaction(t *testing.T) {
	svc, _, refunds := newFixture()

	_, err := svc.Request(context.Background(), Form{
		TransactionID: "tx-missing",
		Message:       "Where is it",
		Email:         "buyer@example.com",
	})
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Empty(t, refunds.items)
}

func TestService_Review(t *testing.T) {
	ctx := context.Background()

	t.Run("accept grants refund", func(t *testing.T) {
		svc, orders, _ := newFixture()
		r, err := svc.Request(ctx, Form{TransactionID: "tx-complete", Message: "m", Email: "b@example.com"})
		require.NoError(t, err)

		r, err = svc.Review(ctx, r.ID, true)
		require.NoError(t, err)
		assert.True(t, r.Accepted)
		assert.True(t, r.Reviewed)
		assert.True(t, orders.byID[1].RefundGranted)
		assert.False(t, orders.byID[1].RefundRequested)

		_, err = svc.Review(ctx, r.ID, false)
		require.ErrorIs(t, err, ErrAlreadyReviewed)
	})

	t.Run("reject clears request", func(t *testing.T) {
		svc, orders, _ := newFixture()
		r, err := svc.Request(ctx, Form{TransactionID: "tx-complete", Message: "m", Email: "b@example.com"})
		require.NoError(t, err)

		r, err = svc.Review(ctx, r.ID, false)
		require.NoError(t, err)
		assert.False(t, r.Accepted)
		assert.False(t, orders.byID[1].RefundGranted)
		assert.False(t, orders.byID[1].RefundRequested)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		svc, _, _ := newFixture()
		_, err := svc.Review(ctx, 42, true)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_Request_OnePendingPerOrder(t *testing.T) {
	ctx := context.Background()
	form := Form{TransactionID: "tx-complete", Message: "m", Email: "b@example.com"}
	svc, orders, refunds := newFixture()

	first, err := svc.Request(ctx, form)
	require.NoError(t, err)

	_, err = svc.Request(ctx, form)
	require.ErrorIs(t, err, order.ErrRefundPending)
	assert.Len(t, refunds.items, 1, "no duplicate ticket")

	_, err = svc.Review(ctx, first.ID, false)
	require.NoError(t, err)

	second, err := svc.Request(ctx, form)
	require.NoError(t, err, "a rejected request may be repeated")

	_, err = svc.Review(ctx, second.ID, true)
	require.NoError(t, err)

	_, err = svc.Request(ctx, form)
	require.ErrorIs(t, err, order.ErrRefundGranted)
	assert.Len(t, refunds.items, 2)
	assert.True(t, orders.byID[1].RefundGranted)
}
