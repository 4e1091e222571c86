// Package app holds the checkout use cases: pricing, starting a checkout,
// handling processor callbacks, customer retries, administrator payment
// edits and the expiry sweep. Every payment mutation is followed by a
// reconciliation of the owning order inside the same transaction.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
)

// Flow selects how online-gateway checkouts are staged.
type Flow string

const (
	// FlowReservation stages the checkout in the reservation store and
	// creates the order only when the processor reports payment.
	FlowReservation Flow = "reservation"
	// FlowOrder persists a pending order before redirecting to the processor.
	FlowOrder Flow = "order"
)

func (f Flow) Valid() bool {
	return f == FlowReservation || f == FlowOrder
}

type Deps struct {
	Store        ports.Store
	Catalog      ports.Catalog
	Reservations ports.ReservationStore
	Gateway      ports.PaymentGateway
	Verifier     ports.EventVerifier
	Notifier     ports.Notifier
	Blobs        ports.BlobStore
	// SagaLog is optional. Without it saga transitions are only logged.
	SagaLog sagalog.Repository
	Now     func() time.Time
}

type Options struct {
	Flow           Flow
	ReservationTTL time.Duration
	SessionTTL     time.Duration
	StoreTimeout   time.Duration
	NotifyTimeout  time.Duration
	Currency       string
	SuccessURL     string
	CancelURL      string
	// PricingConcurrency bounds parallel catalog lookups.
	PricingConcurrency int
}

func (o Options) withDefaults() Options {
	if !o.Flow.Valid() {
		o.Flow = FlowReservation
	}
	if o.ReservationTTL <= 0 {
		o.ReservationTTL = 24 * time.Hour
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = time.Hour
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 5 * time.Second
	}
	if o.Currency == "" {
		o.Currency = "usd"
	}
	if o.PricingConcurrency <= 0 {
		o.PricingConcurrency = 8
	}
	return o
}

type Service struct {
	store        ports.Store
	catalog      ports.Catalog
	reservations ports.ReservationStore
	gateway      ports.PaymentGateway
	verifier     ports.EventVerifier
	notifier     ports.Notifier
	blobs        ports.BlobStore
	sagaLog      sagalog.Repository
	now          func() time.Time

	opts     Options
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewService(d Deps, opts Options) (*Service, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("app: store required")
	case d.Catalog == nil:
		return nil, errors.New("app: catalog required")
	case d.Reservations == nil:
		return nil, errors.New("app: reservation store required")
	case d.Gateway == nil:
		return nil, errors.New("app: payment gateway required")
	case d.Verifier == nil:
		return nil, errors.New("app: event verifier required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	return &Service{
		store:        d.Store,
		catalog:      d.Catalog,
		reservations: d.Reservations,
		gateway:      d.Gateway,
		verifier:     d.Verifier,
		notifier:     d.Notifier,
		blobs:        d.Blobs,
		sagaLog:      d.SagaLog,
		now:          d.Now,
		opts:         opts.withDefaults(),
		validate:     newValidator(),
		tracer:       otel.Tracer("github.com/jcmexdev/storefront-checkout/internal/checkout/app"),
	}, nil
}

func (s *Service) Options() Options {
	return s.opts
}

// withinTx runs fn in a store transaction bounded by the store timeout.
func (s *Service) withinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.store.WithinTx(ctx, fn)
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs struct tag validation and converts failures into a
// domain.ValidationError keyed by JSON field path.
func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = validationMessage(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "base64":
		return "must be base64 encoded"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// Requester is the authenticated caller of a customer or admin operation.
type Requester struct {
	CustomerID string
	Email      string
	Admin      bool
}

func (r Requester) owns(o *domain.Order) bool {
	return r.Admin || o.OwnedBy(r.CustomerID, r.Email)
}
