package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/payment"
)

func TestProcessor_Charge(t *testing.T) {
	tests := []struct {
		token string
		want  payment.FailureKind
	}{
		{token: TokenDeclined, want: payment.CardDeclined},
		{token: TokenRateLimited, want: payment.RateLimited},
		{token: TokenInvalid, want: payment.InvalidRequest},
		{token: TokenAuthFailed, want: payment.AuthenticationFailed},
		{token: TokenNetwork, want: payment.NetworkError},
		{token: TokenProcessorError, want: payment.ProcessorError},
		{token: TokenUnknown, want: payment.Unknown},
		{token: "", want: payment.InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			p := New()
			_, err := p.Charge(context.Background(), payment.ChargeRequest{Amount: 100, Currency: "USD", Token: tt.token})
			require.Error(t, err)
			assert.Equal(t, tt.want, payment.AsFailure(err).Kind)
			assert.Empty(t, p.Charges())
		})
	}
}

func TestProcessor_ChargeSuccess(t *testing.T) {
	p := New()
	req := payment.ChargeRequest{Amount: 2400, Currency: "USD", Token: TokenVisa, Reference: "7"}

	ch, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, []payment.ChargeRequest{req}, p.Charges())
}

func TestProcessor_ZeroAmount(t *testing.T) {
	_, err := New().Charge(context.Background(), payment.ChargeRequest{Token: TokenVisa})
	assert.Equal(t, payment.InvalidRequest, payment.AsFailure(err).Kind)
}
