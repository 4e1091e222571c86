package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
)

const (
	noteCheckoutCreated   = "Checkout session created. Awaiting payment."
	noteManualRetry       = "Manual retry by customer"
	noteRetrySuperseded   = "Previous attempt abandoned - customer retried manually"
	noteSessionOpenFailed = "Checkout page could not be opened"
)

// --- StageReservationStep ---

// StageReservationStep writes the reservation to the ephemeral store after
// confirming every product is still sellable.
type StageReservationStep struct {
	store       ports.ReservationStore
	catalog     ports.Catalog
	reservation *domain.Reservation
	ttl         time.Duration
}

func NewStageReservationStep(store ports.ReservationStore, catalog ports.Catalog, r *domain.Reservation, ttl time.Duration) *StageReservationStep {
	return &StageReservationStep{store: store, catalog: catalog, reservation: r, ttl: ttl}
}

func (s *StageReservationStep) Name() string { return "Stage_Reservation_Step" }

func (s *StageReservationStep) Execute(ctx context.Context) error {
	if err := recheckAvailability(ctx, s.catalog.Product, s.reservation.Lines); err != nil {
		return err
	}
	if err := s.store.Put(ctx, s.reservation, s.ttl); err != nil {
		return fmt.Errorf("failed to stage reservation: %w", err)
	}
	return nil
}

func (s *StageReservationStep) Compensate(ctx context.Context) error {
	return s.store.Delete(context.WithoutCancel(ctx), s.reservation.ID)
}

// --- PersistOrderStep ---

// PersistOrderStep writes the order, its items and the opening payment
// attempt in one transaction.
type PersistOrderStep struct {
	svc     *Service
	order   *domain.Order
	lines   []domain.PricedLine
	payment *domain.Payment
}

func NewPersistOrderStep(svc *Service, order *domain.Order, lines []domain.PricedLine, payment *domain.Payment) *PersistOrderStep {
	return &PersistOrderStep{svc: svc, order: order, lines: lines, payment: payment}
}

func (s *PersistOrderStep) Name() string { return "Persist_Order_Step" }

func (s *PersistOrderStep) Execute(ctx context.Context) error {
	return s.svc.persistOrder(ctx, s.order, s.lines, s.payment)
}

// Compensate removes the order together with its items and payments. The
// customer never saw it.
func (s *PersistOrderStep) Compensate(ctx context.Context) error {
	return s.svc.withinTx(context.WithoutCancel(ctx), func(ctx context.Context, tx ports.Tx) error {
		return tx.DeleteOrder(ctx, s.order.ID)
	})
}

// --- OpenCheckoutSessionStep ---

type OpenCheckoutSessionStep struct {
	gateway ports.PaymentGateway
	request ports.CheckoutSessionRequest
	session *ports.CheckoutSession
}

func NewOpenCheckoutSessionStep(gateway ports.PaymentGateway, req ports.CheckoutSessionRequest) *OpenCheckoutSessionStep {
	return &OpenCheckoutSessionStep{gateway: gateway, request: req}
}

func (s *OpenCheckoutSessionStep) Name() string { return "Open_Checkout_Session_Step" }

func (s *OpenCheckoutSessionStep) Execute(ctx context.Context) error {
	session, err := s.gateway.CreateCheckoutSession(ctx, s.request)
	if err != nil {
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("failed to open checkout session: %w", err)
	}
	s.session = session
	return nil
}

// Compensate is a no-op: an unused processor session expires on its own.
func (s *OpenCheckoutSessionStep) Compensate(ctx context.Context) error { return nil }

func (s *OpenCheckoutSessionStep) Session() *ports.CheckoutSession { return s.session }

// --- AttachSessionStep ---

// AttachSessionStep binds the processor session token to the order.
type AttachSessionStep struct {
	svc     *Service
	orderID string
	open    *OpenCheckoutSessionStep
}

func NewAttachSessionStep(svc *Service, orderID string, open *OpenCheckoutSessionStep) *AttachSessionStep {
	return &AttachSessionStep{svc: svc, orderID: orderID, open: open}
}

func (s *AttachSessionStep) Name() string { return "Attach_Session_Step" }

func (s *AttachSessionStep) Execute(ctx context.Context) error {
	return s.svc.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.SetSessionToken(ctx, s.orderID, s.open.Session().ID)
	})
}

func (s *AttachSessionStep) Compensate(ctx context.Context) error { return nil }

// --- SupersedePaymentStep ---

// SupersedePaymentStep closes the customer's open card attempt and opens a
// fresh pending one. Only the owning customer may do this, and only while
// the order is pending.
type SupersedePaymentStep struct {
	svc       *Service
	orderID   string
	requester Requester

	order   *domain.Order
	payment *domain.Payment
}

func NewSupersedePaymentStep(svc *Service, orderID string, requester Requester) *SupersedePaymentStep {
	return &SupersedePaymentStep{svc: svc, orderID: orderID, requester: requester}
}

func (s *SupersedePaymentStep) Name() string { return "Supersede_Payment_Attempt_Step" }

func (s *SupersedePaymentStep) Execute(ctx context.Context) error {
	return s.svc.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.LockOrder(ctx, s.orderID)
		if err != nil {
			return err
		}
		if !order.OwnedBy(s.requester.CustomerID, s.requester.Email) {
			return fmt.Errorf("%w: order %s belongs to another customer", domain.ErrUnauthorized, order.ID)
		}
		if order.Status != domain.OrderPending {
			return fmt.Errorf("%w: order %s is %s", domain.ErrNotPending, order.ID, order.Status)
		}

		if err := failPendingOnline(ctx, tx, order.ID, noteRetrySuperseded, true); err != nil {
			return err
		}

		p := &domain.Payment{
			OrderID: order.ID,
			Amount:  order.Total,
			Method:  domain.MethodCard,
			Status:  domain.PaymentPending,
			Notes:   noteManualRetry,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if _, err := reconcileTx(ctx, tx, order); err != nil {
			return err
		}

		s.order = order
		s.payment = p
		return nil
	})
}

// Compensate fails the attempt opened by Execute. It is marked retryable so
// the order stays pending and the customer can try again.
func (s *SupersedePaymentStep) Compensate(ctx context.Context) error {
	if s.payment == nil {
		return nil
	}
	return s.svc.withinTx(context.WithoutCancel(ctx), func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.LockOrder(ctx, s.orderID)
		if err != nil {
			return err
		}
		p, err := tx.Payment(ctx, s.payment.ID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentPending {
			return nil
		}
		p.Fail(noteSessionOpenFailed, true)
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		_, err = reconcileTx(ctx, tx, order)
		return err
	})
}

// failPendingOnline moves every pending online attempt of the order to
// failed. Keeps at most one pending card payment per order.
func failPendingOnline(ctx context.Context, tx ports.Tx, orderID, note string, retryable bool) error {
	payments, err := tx.Payments(ctx, orderID)
	if err != nil {
		return err
	}
	for i := range payments {
		p := &payments[i]
		if p.Status != domain.PaymentPending || !p.Method.Online() {
			continue
		}
		p.Fail(note, retryable)
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ coordinator.Step = (*StageReservationStep)(nil)
	_ coordinator.Step = (*PersistOrderStep)(nil)
	_ coordinator.Step = (*OpenCheckoutSessionStep)(nil)
	_ coordinator.Step = (*AttachSessionStep)(nil)
	_ coordinator.Step = (*SupersedePaymentStep)(nil)
)

func (s *Service) runSaga(ctx context.Context, sagaID string, payload any, steps ...coordinator.Step) error {
	return coordinator.NewOrchestrator(sagaID, steps, s.sagaLog).WithPayload(payload).Start(ctx)
}
