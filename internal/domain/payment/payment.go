package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrPaymentInProgress is returned when another capture of the same
	// order is still running.
	ErrPaymentInProgress = errors.New("payment already in progress")
	// ErrMissingToken is returned when no payment token was supplied.
	ErrMissingToken = errors.New("payment token required")
)

// Payment is the immutable record of a successful charge.
type Payment struct {
	ID         int64
	CustomerID int64
	OrderID    int64
	// ChargeID is the processor's identifier for the charge.
	ChargeID string
	Amount   decimal.Decimal
	// AmountMinor is Amount in cents, as sent to the processor.
	AmountMinor int64
	Currency    string
	CreatedAt   time.Time
}

// Repository stores payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
}

// ChargeRequest is what the storefront asks a processor to charge.
type ChargeRequest struct {
	// Amount in minor currency units.
	Amount   int64
	Currency string
	// Token is the client-side payment token.
	Token string
	// Reference identifies the order on the processor side.
	Reference string
}

// Charge is a processor confirmation.
type Charge struct {
	ID string
}

// Processor charges a payment token. Failures are reported as *Failure.
type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// FailureKind classifies processor failures.
type FailureKind string

const (
	CardDeclined         FailureKind = "card_declined"
	RateLimited          FailureKind = "rate_limited"
	InvalidRequest       FailureKind = "invalid_request"
	AuthenticationFailed FailureKind = "authentication_failed"
	NetworkError         FailureKind = "network_error"
	ProcessorError       FailureKind = "processor_error"
	Unknown              FailureKind = "unknown"
)

// Message is the customer-facing description of the failure kind.
func (k FailureKind) Message() string {
	switch k {
	case CardDeclined:
		return "Your card was declined."
	case RateLimited:
		return "Too many payment attempts. Please wait and try again."
	case InvalidRequest:
		return "The payment request was invalid."
	case AuthenticationFailed:
		return "The payment provider rejected our credentials."
	case NetworkError:
		return "Could not reach the payment provider. Please try again."
	case ProcessorError:
		return "Something went wrong. You were not charged. Please try again."
	default:
		return "A serious error occurred. We have been notified."
	}
}

// Operator reports whether the failure needs operator attention rather than
// customer action.
func (k FailureKind) Operator() bool {
	switch k {
	case AuthenticationFailed, ProcessorError, Unknown:
		return true
	}
	return false
}

// Failure is a classified processor failure.
type Failure struct {
	Kind FailureKind
	// Message is the processor's explanation, if any.
	Message string
	Err     error
}

// NewFailure creates a Failure of kind wrapping err.
func NewFailure(kind FailureKind, msg string, err error) *Failure {
	return &Failure{Kind: kind, Message: msg, Err: err}
}

func (f *Failure) Error() string {
	s := fmt.Sprintf("payment failed: %s", f.Kind)
	if f.Message != "" {
		s += ": " + f.Message
	}
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	return s
}

func (f *Failure) Unwrap() error { return f.Err }

// CustomerMessage is the text shown to the customer. Declines carry the
// processor's reason when present.
func (f *Failure) CustomerMessage() string {
	if f.Kind == CardDeclined && f.Message != "" {
		return f.Message
	}
	return f.Kind.Message()
}

// AsFailure classifies err, falling back to Unknown for unclassified errors.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewFailure(Unknown, "", err)
}
