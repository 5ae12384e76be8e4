package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/payment"

// Transactor runs fn inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds capture settings.
type Config struct {
	// Currency is the ISO 4217 code sent to the processor.
	Currency string
	// ClaimTimeout is how long a charge attempt blocks other attempts on
	// the same order. Older claims are treated as abandoned.
	ClaimTimeout time.Duration
}

// Receipt is the result of a successful capture.
type Receipt struct {
	Payment *Payment
	Order   *order.Order
}

// Service captures payment for orders.
type Service struct {
	orders    order.Repository
	payments  Repository
	inventory product.Inventory
	ledger    coupon.Ledger
	processor Processor
	tx        Transactor
	cfg       Config

	now           func() time.Time
	transactionID func() string

	tracer   trace.Tracer
	captures metric.Int64Counter
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider sets the tracer provider used for processor spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider sets the meter provider used for capture counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// NewService creates a payment Service.
func NewService(
	orders order.Repository,
	payments Repository,
	inventory product.Inventory,
	ledger coupon.Ledger,
	processor Processor,
	tx Transactor,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	o := options{
		tp: otel.GetTracerProvider(),
		mp: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = order.DefaultClaimTimeout
	}

	captures, err := o.mp.Meter(instrumentationName).Int64Counter("storefront.payment.captures",
		metric.WithDescription("Payment capture attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create captures counter")
	}

	return &Service{
		orders:        orders,
		payments:      payments,
		inventory:     inventory,
		ledger:        ledger,
		processor:     processor,
		tx:            tx,
		cfg:           cfg,
		now:           time.Now,
		transactionID: func() string { return uuid.New().String() },
		tracer:        o.tp.Tracer(instrumentationName),
		captures:      captures,
	}, nil
}

func (s *Service) count(ctx context.Context, outcome string) {
	s.captures.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Capture charges the customer for the order and completes it.
//
// The order is first claimed in its own transaction, which rejects a
// concurrent capture before the processor is called. The charge runs outside
// any transaction. On failure the claim is released and a *Failure is
// returned; on success the payment, stock, coupon redemption and completion
// are committed together.
func (s *Service) Capture(ctx context.Context, customerID, orderID int64, token string) (*Receipt, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	quote, err := s.claim(ctx, customerID, orderID)
	if err != nil {
		s.count(ctx, "rejected")
		return nil, err
	}

	// Once claimed, the outcome must be recorded even if the client goes away.
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(zap.Int64("order_id", orderID))

	var chargeID string
	if quote.AmountMinor > 0 {
		ch, err := s.charge(ctx, ChargeRequest{
			Amount:    quote.AmountMinor,
			Currency:  s.cfg.Currency,
			Token:     token,
			Reference: strconv.FormatInt(orderID, 10),
		})
		if err != nil {
			f := AsFailure(err)
			s.release(ctx, orderID)
			s.count(ctx, string(f.Kind))
			if f.Kind.Operator() {
				lg.Error("Payment processor failure", zap.String("kind", string(f.Kind)), zap.Error(err))
			} else {
				lg.Info("Payment declined", zap.String("kind", string(f.Kind)), zap.String("reason", f.Message))
			}
			return nil, f
		}
		chargeID = ch.ID
	} else {
		chargeID = "free-" + strconv.FormatInt(orderID, 10)
	}

	receipt, err := s.complete(ctx, customerID, orderID, chargeID, quote)
	if err != nil {
		// The customer was charged but the order could not be completed. The
		// claim stays in place so the order is not charged again before the
		// claim timeout.
		lg.Error("Charge captured but order completion failed",
			zap.String("charge_id", chargeID),
			zap.Int64("amount_minor", quote.AmountMinor),
			zap.Error(err),
		)
		s.count(ctx, "completion_failed")
		return nil, errors.Wrap(err, "complete order")
	}

	s.count(ctx, "success")
	lg.Info("Payment captured",
		zap.String("charge_id", chargeID),
		zap.String("transaction_id", receipt.Order.TransactionID),
	)
	return receipt, nil
}

// claim moves the order into charging and prices it. When the order is not
// chargeable it is left open, which also releases a stale claim taken over
// from a crashed attempt.
func (s *Service) claim(ctx context.Context, customerID, orderID int64) (order.Quote, error) {
	var (
		quote    order.Quote
		notReady error
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.CustomerID != customerID {
			return order.ErrNotFound
		}
		if err := o.Claim(s.now(), s.cfg.ClaimTimeout); err != nil {
			if errors.Is(err, order.ErrCheckoutInProgress) {
				return ErrPaymentInProgress
			}
			return err
		}
		if notReady = o.ChargeReady(); notReady != nil {
			o.Release()
			return s.orders.Save(ctx, o)
		}
		quote = o.Price()
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		return quote, err
	}
	return quote, notReady
}

func (s *Service) charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Charge",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("order.reference", req.Reference),
			attribute.Int64("payment.amount_minor", req.Amount),
			attribute.String("payment.currency", req.Currency),
		),
	)
	defer span.End()

	ch, err := s.processor.Charge(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(AsFailure(err).Kind))
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.charge_id", ch.ID))
	return ch, nil
}

func (s *Service) release(ctx context.Context, orderID int64) {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		o.Release()
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		zctx.From(ctx).Error("Release payment claim", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) complete(ctx context.Context, customerID, orderID int64, chargeID string, quote order.Quote) (*Receipt, error) {
	var receipt Receipt
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == order.StatusComplete {
			return order.ErrAlreadyComplete
		}

		now := s.now()
		p := &Payment{
			CustomerID:  customerID,
			OrderID:     orderID,
			ChargeID:    chargeID,
			Amount:      quote.Total,
			AmountMinor: quote.AmountMinor,
			Currency:    s.cfg.Currency,
			CreatedAt:   now,
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}

		for _, it := range o.Items {
			shortfall, err := s.inventory.Decrement(ctx, it.Product.ID, it.Quantity)
			if err != nil {
				return errors.Wrapf(err, "decrement stock of product %d", it.Product.ID)
			}
			if shortfall > 0 {
				zctx.From(ctx).Warn("Product oversold",
					zap.Int64("order_id", orderID),
					zap.Int64("product_id", it.Product.ID),
					zap.Int("shortfall", shortfall),
				)
			}
		}

		if o.Coupon != nil {
			if err := s.ledger.Redeem(ctx, customerID, o.Coupon.ID); err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
		}

		if err := o.Complete(s.transactionID(), p.ID, now); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return errors.Wrap(err, "save order")
		}

		receipt = Receipt{Payment: p, Order: o}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
