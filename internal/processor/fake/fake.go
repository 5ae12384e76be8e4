// Package fake provides a deterministic payment processor for local
// development and tests. The outcome of a charge is selected by the token.
package fake

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/payment"
)

// Tokens recognized by the Processor. Any other non-empty token succeeds.
const (
	TokenVisa           = "tok_visa"
	TokenDeclined       = "tok_chargeDeclined"
	TokenRateLimited    = "tok_rateLimited"
	TokenInvalid        = "tok_invalidRequest"
	TokenAuthFailed     = "tok_authenticationFailed"
	TokenNetwork        = "tok_networkError"
	TokenProcessorError = "tok_processorError"
	TokenUnknown        = "tok_unknownError"
)

var _ payment.Processor = (*Processor)(nil)

// Processor is an in-memory payment processor.
type Processor struct {
	mu      sync.Mutex
	charges []payment.ChargeRequest
}

// New creates a Processor.
func New() *Processor {
	return &Processor{}
}

// Charge succeeds or fails according to req.Token.
func (p *Processor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, payment.NewFailure(payment.NetworkError, "", err)
	}
	if req.Amount <= 0 {
		return nil, payment.NewFailure(payment.InvalidRequest, "amount must be positive", nil)
	}

	switch req.Token {
	case "":
		return nil, payment.NewFailure(payment.InvalidRequest, "missing token", nil)
	case TokenDeclined:
		return nil, payment.NewFailure(payment.CardDeclined, "Your card was declined.", nil)
	case TokenRateLimited:
		return nil, payment.NewFailure(payment.RateLimited, "", errors.New("too many requests"))
	case TokenInvalid:
		return nil, payment.NewFailure(payment.InvalidRequest, "", errors.New("invalid parameters"))
	case TokenAuthFailed:
		return nil, payment.NewFailure(payment.AuthenticationFailed, "", errors.New("invalid api key"))
	case TokenNetwork:
		return nil, payment.NewFailure(payment.NetworkError, "", errors.New("connection reset"))
	case TokenProcessorError:
		return nil, payment.NewFailure(payment.ProcessorError, "", errors.New("internal processor error"))
	case TokenUnknown:
		return nil, errors.New("unexpected processor response")
	}

	p.mu.Lock()
	p.charges = append(p.charges, req)
	p.mu.Unlock()

	return &payment.Charge{ID: "ch_" + uuid.New().String()}, nil
}

// Charges returns the successful charge requests seen so far.
func (p *Processor) Charges() []payment.ChargeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.ChargeRequest(nil), p.charges...)
}
