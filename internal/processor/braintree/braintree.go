// Package braintree charges payment tokens through the Braintree gateway.
package braintree

import (
	"context"
	"net"
	"net/http"
	"time"

	bt "github.com/braintree-go/braintree-go"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront/internal/domain/payment"
)

// TokenKind selects how the client token is passed to Braintree.
type TokenKind string

const (
	// TokenNonce is a one-time nonce from the client SDK.
	TokenNonce TokenKind = "nonce"
	// TokenVaulted is a stored payment method token.
	TokenVaulted TokenKind = "vaulted"
)

// Config holds gateway credentials.
type Config struct {
	Environment       string        `yaml:"environment" default:"sandbox" usage:"sandbox or production"`
	MerchantID        string        `yaml:"merchant_id"`
	PublicKey         string        `yaml:"public_key"`
	PrivateKey        string        `yaml:"private_key"`
	MerchantAccountID string        `yaml:"merchant_account_id"`
	TokenKind         string        `yaml:"token_kind" default:"nonce" usage:"nonce or vaulted"`
	Timeout           time.Duration `yaml:"timeout" default:"30s"`
}

type transactions interface {
	Create(ctx context.Context, req *bt.TransactionRequest) (*bt.Transaction, error)
}

var _ payment.Processor = (*Processor)(nil)

// Processor implements payment.Processor on Braintree sales.
type Processor struct {
	tx                transactions
	merchantAccountID string
	tokenKind         TokenKind
}

// New creates a Processor with an instrumented HTTP client.
func New(cfg Config) (*Processor, error) {
	if cfg.MerchantID == "" || cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("braintree credentials are required")
	}
	env := bt.Sandbox
	if cfg.Environment == "production" {
		env = bt.Production
	}
	kind := TokenKind(cfg.TokenKind)
	switch kind {
	case "":
		kind = TokenNonce
	case TokenNonce, TokenVaulted:
	default:
		return nil, errors.Errorf("unknown braintree token kind %q", cfg.TokenKind)
	}

	gw := bt.New(env, cfg.MerchantID, cfg.PublicKey, cfg.PrivateKey)
	gw.HttpClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return newProcessor(gw.Transaction(), cfg.MerchantAccountID, kind), nil
}

func newProcessor(tx transactions, merchantAccountID string, kind TokenKind) *Processor {
	return &Processor{tx: tx, merchantAccountID: merchantAccountID, tokenKind: kind}
}

// Charge submits a sale for immediate settlement.
func (p *Processor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	if req.Amount <= 0 || req.Token == "" {
		return nil, payment.NewFailure(payment.InvalidRequest, "amount and token are required", nil)
	}

	treq := &bt.TransactionRequest{
		Type:              "sale",
		Amount:            bt.NewDecimal(req.Amount, 2),
		OrderId:           req.Reference,
		MerchantAccountId: p.merchantAccountID,
		Options: &bt.TransactionOptions{
			SubmitForSettlement: true,
		},
	}
	if p.tokenKind == TokenVaulted {
		treq.PaymentMethodToken = req.Token
	} else {
		treq.PaymentMethodNonce = req.Token
	}

	tx, err := p.tx.Create(ctx, treq)
	if err != nil {
		return nil, classify(err)
	}
	if f := declined(tx); f != nil {
		return nil, f
	}
	return &payment.Charge{ID: tx.Id}, nil
}

func declined(tx *bt.Transaction) *payment.Failure {
	if tx == nil {
		return payment.NewFailure(payment.Unknown, "empty transaction in response", nil)
	}
	switch tx.Status {
	case bt.TransactionStatusProcessorDeclined, bt.TransactionStatusGatewayRejected:
		return payment.NewFailure(payment.CardDeclined, tx.ProcessorResponseText, nil)
	}
	return nil
}

type statusCoder interface {
	StatusCode() int
}

// classify maps a gateway error to a payment failure kind.
func classify(err error) *payment.Failure {
	var btErr *bt.BraintreeError
	if errors.As(err, &btErr) && btErr.Transaction != nil {
		if f := declined(btErr.Transaction); f != nil {
			f.Err = err
			return f
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch {
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return payment.NewFailure(payment.AuthenticationFailed, "gateway rejected credentials", err)
		case code == http.StatusTooManyRequests:
			return payment.NewFailure(payment.RateLimited, "gateway rate limit", err)
		case code >= http.StatusInternalServerError:
			return payment.NewFailure(payment.ProcessorError, "gateway unavailable", err)
		case code >= http.StatusBadRequest:
			return payment.NewFailure(payment.InvalidRequest, err.Error(), err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return payment.NewFailure(payment.NetworkError, "gateway unreachable", err)
	}
	return payment.NewFailure(payment.Unknown, err.Error(), err)
}
