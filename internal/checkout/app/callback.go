package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

// Outcome is what the processor sees for a callback delivery.
type Outcome int

const (
	// Accepted: processed, duplicate or deliberately ignored. Reply 2xx.
	Accepted Outcome = iota
	// Rejected: permanently unacceptable. Reply 4xx.
	Rejected
	// Transient: nothing was changed; redelivery is safe. Reply 5xx.
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "transient"
	}
}

type CallbackResult struct {
	Outcome   Outcome
	Reason    string
	EventID   string
	OrderID   string
	Duplicate bool
	Err       error
}

const (
	notePaid           = "Payment completed via checkout session"
	notePaidSuperseded = "Payment completed via a replaced checkout session"
	noteSessionExpired = "Checkout session expired without payment"
)

var errAlreadyProcessed = errors.New("event already processed")

// HandleCallback authenticates a processor notification and applies it.
// It never panics on bad input and never returns an error: every result is
// one of Accepted, Rejected or Transient.
func (s *Service) HandleCallback(ctx context.Context, payload []byte, signatureHeader string) (res CallbackResult) {
	ctx, span := s.startSpan(ctx, "checkout.callback")
	defer func() { endSpan(span, res.Err) }()

	ev, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			slog.WarnContext(ctx, "callback signature rejected", "event", "security", "error", err)
		} else {
			slog.WarnContext(ctx, "callback payload rejected", "error", err)
		}
		return CallbackResult{Outcome: Rejected, Reason: reasonOf(err), Err: err}
	}

	log := slog.With("event_id", ev.ID, "event_type", ev.Type, "session_id", ev.SessionID)

	switch ev.Type {
	case ports.EventSessionCompleted:
		if ev.PaymentStatus != "" && ev.PaymentStatus != "paid" {
			log.InfoContext(ctx, "completed session not yet paid, ignoring", "payment_status", ev.PaymentStatus)
			return CallbackResult{Outcome: Accepted, Reason: "not_paid", EventID: ev.ID}
		}
	case ports.EventSessionExpired:
	default:
		log.DebugContext(ctx, "callback type ignored")
		return CallbackResult{Outcome: Accepted, Reason: "ignored", EventID: ev.ID}
	}

	switch {
	case ev.OrderID != "":
		res = s.applyToOrder(ctx, ev)
	case ev.ReservationID != "":
		res = s.applyToReservation(ctx, ev)
	default:
		err := fmt.Errorf("%w: event %s has no order or reservation id", domain.ErrMissingCorrelation, ev.ID)
		log.WarnContext(ctx, "callback without correlation token")
		return CallbackResult{Outcome: Rejected, Reason: reasonOf(err), EventID: ev.ID, Err: err}
	}
	res.EventID = ev.ID

	switch res.Outcome {
	case Accepted:
		log.InfoContext(ctx, "callback accepted", "order_id", res.OrderID, "duplicate", res.Duplicate)
	case Rejected:
		log.WarnContext(ctx, "callback rejected", "order_id", res.OrderID, "reason", res.Reason, "error", res.Err)
	case Transient:
		log.ErrorContext(ctx, "callback failed, awaiting redelivery", "order_id", res.OrderID, "error", res.Err)
	}
	return res
}

func (s *Service) applyToOrder(ctx context.Context, ev *ports.GatewayEvent) CallbackResult {
	if ev.Type == ports.EventSessionExpired {
		return s.expireOrderAttempt(ctx, ev)
	}
	return s.completeOrderAttempt(ctx, ev)
}

func (s *Service) applyToReservation(ctx context.Context, ev *ports.GatewayEvent) CallbackResult {
	if ev.Type == ports.EventSessionExpired {
		if err := s.reservations.Delete(ctx, ev.ReservationID); err != nil {
			return failed(err, "")
		}
		slog.InfoContext(ctx, "reservation released after session expiry", "reservation_id", ev.ReservationID)
		return CallbackResult{Outcome: Accepted}
	}
	return s.materializeReservation(ctx, ev)
}

// completeOrderAttempt settles the newest pending card attempt of an
// existing order. A paid order is left untouched.
func (s *Service) completeOrderAttempt(ctx context.Context, ev *ports.GatewayEvent) CallbackResult {
	duplicate := false
	err := s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		fresh, err := tx.RecordEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return err
		}
		if !fresh {
			return errAlreadyProcessed
		}

		order, err := tx.LockOrder(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		if order.Paid {
			duplicate = true
			return nil
		}

		// A session replaced by a retry settles as its own record; the
		// pending attempt belongs to the current session.
		if staleSession(order, ev) {
			p := &domain.Payment{OrderID: order.ID, Amount: order.Total, Method: domain.MethodCard}
			if ev.AmountTotal.Valid {
				p.Amount = ev.AmountTotal.Decimal
			}
			p.Complete(ev.PaymentIntent, notePaidSuperseded)
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
			_, err = reconcileTx(ctx, tx, order)
			return err
		}

		p, err := tx.LatestPendingPayment(ctx, order.ID, domain.MethodCard)
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			amount := order.Total
			if ev.AmountTotal.Valid {
				amount = ev.AmountTotal.Decimal
			}
			p = &domain.Payment{OrderID: order.ID, Amount: amount, Method: domain.MethodCard}
			p.Complete(ev.PaymentIntent, notePaid)
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			p.Complete(ev.PaymentIntent, notePaid)
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
		}

		if order.SessionToken == "" && ev.SessionID != "" {
			if err := tx.SetSessionToken(ctx, order.ID, ev.SessionID); err != nil {
				return err
			}
		}

		_, err = reconcileTx(ctx, tx, order)
		return err
	})
	if errors.Is(err, errAlreadyProcessed) {
		return CallbackResult{Outcome: Accepted, OrderID: ev.OrderID, Duplicate: true, Reason: "duplicate"}
	}
	if err != nil {
		return failed(err, ev.OrderID)
	}
	return CallbackResult{Outcome: Accepted, OrderID: ev.OrderID, Duplicate: duplicate}
}

// expireOrderAttempt fails the newest pending card attempt. The failure is
// retryable: the order stays pending until the customer retries or the
// sweeper closes it.
func (s *Service) expireOrderAttempt(ctx context.Context, ev *ports.GatewayEvent) CallbackResult {
	var (
		order   *domain.Order
		expired bool
		stale   bool
	)
	err := s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		fresh, err := tx.RecordEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return err
		}
		if !fresh {
			return errAlreadyProcessed
		}

		order, err = tx.LockOrder(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		if order.Paid || order.Status != domain.OrderPending {
			return nil
		}
		if staleSession(order, ev) {
			stale = true
			return nil
		}

		p, err := tx.LatestPendingPayment(ctx, order.ID, domain.MethodCard)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		p.Fail(noteSessionExpired, true)
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		expired = true
		_, err = reconcileTx(ctx, tx, order)
		return err
	})
	if errors.Is(err, errAlreadyProcessed) {
		return CallbackResult{Outcome: Accepted, OrderID: ev.OrderID, Duplicate: true, Reason: "duplicate"}
	}
	if err != nil {
		return failed(err, ev.OrderID)
	}

	if stale {
		slog.InfoContext(ctx, "expiry of a replaced session ignored", "order_id", order.ID, "session_id", ev.SessionID)
		return CallbackResult{Outcome: Accepted, OrderID: order.ID, Reason: "stale_session"}
	}
	if expired && ev.RecoveryURL != "" {
		s.notifyRecovery(ctx, order, ev.RecoveryURL)
	}
	return CallbackResult{Outcome: Accepted, OrderID: order.ID}
}

// staleSession reports whether ev belongs to a checkout session that has
// since been replaced on the order.
func staleSession(order *domain.Order, ev *ports.GatewayEvent) bool {
	return order.SessionToken != "" && ev.SessionID != "" && order.SessionToken != ev.SessionID
}

// materializeReservation turns a paid reservation into an order. The
// reservation stays readable until the order has committed, so concurrent
// deliveries all reach the insert; the unique session token and reservation
// id on orders reject every insert but the first. The reservation is consumed
// afterwards.
func (s *Service) materializeReservation(ctx context.Context, ev *ports.GatewayEvent) CallbackResult {
	if ev.SessionID != "" {
		if existing, err := s.store.OrderBySessionToken(ctx, ev.SessionID); err == nil {
			return CallbackResult{Outcome: Accepted, OrderID: existing.ID, Duplicate: true, Reason: "duplicate"}
		} else if !errors.Is(err, domain.ErrOrderNotFound) {
			return failed(err, "")
		}
	}

	res, err := s.reservations.Get(ctx, ev.ReservationID)
	if errors.Is(err, domain.ErrReservationNotFound) {
		// A concurrent delivery may have committed and consumed it since the
		// first lookup.
		if ev.SessionID != "" {
			if existing, err := s.store.OrderBySessionToken(ctx, ev.SessionID); err == nil {
				return CallbackResult{Outcome: Accepted, OrderID: existing.ID, Duplicate: true, Reason: "duplicate"}
			}
		}
		return rejected(fmt.Errorf("%w: %s", domain.ErrReservationExpired, ev.ReservationID), "")
	}
	if err != nil {
		return failed(err, "")
	}
	if res.Expired(s.now()) {
		return rejected(fmt.Errorf("%w: %s", domain.ErrReservationExpired, res.ID), "")
	}

	order := orderFromLines(uuid.NewString(), res.Customer, res.Lines, res.Total)
	order.SessionToken = ev.SessionID
	order.ReservationID = res.ID

	amount := res.Total
	if ev.AmountTotal.Valid {
		amount = ev.AmountTotal.Decimal
	}

	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		fresh, err := tx.RecordEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return err
		}
		if !fresh {
			return errAlreadyProcessed
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		p := &domain.Payment{OrderID: order.ID, Amount: amount, Method: res.Method}
		if !p.Method.Online() {
			p.Method = domain.MethodCard
		}
		p.Complete(ev.PaymentIntent, notePaid)
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		_, err = reconcileTx(ctx, tx, order)
		return err
	})
	switch {
	case errors.Is(err, errAlreadyProcessed), errors.Is(err, domain.ErrDuplicate):
		return CallbackResult{Outcome: Accepted, Duplicate: true, Reason: "duplicate"}
	case err != nil:
		return failed(err, "")
	}

	s.consumeReservation(ctx, res.ID)

	slog.InfoContext(ctx, "order created from reservation",
		"order_id", order.ID, "reservation_id", res.ID, "total", order.Total.String())
	s.storeArtifacts(ctx, order, res.Lines)
	return CallbackResult{Outcome: Accepted, OrderID: order.ID}
}

// consumeReservation removes a reservation whose order has committed. A
// failure only leaves the entry to its TTL: the order row already blocks a
// second materialization.
func (s *Service) consumeReservation(ctx context.Context, id string) {
	_, err := s.reservations.Take(context.WithoutCancel(ctx), id)
	if err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
		slog.ErrorContext(ctx, "reservation not consumed", "reservation_id", id, "error", err)
	}
}

func (s *Service) notifyRecovery(ctx context.Context, order *domain.Order, recoveryURL string) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()

	err := s.notifier.Send(ctx, ports.Notification{
		Template:  ports.TemplateAbandonedCheckout,
		Recipient: order.Customer.Email,
		Data: map[string]any{
			"order_id":     order.ID,
			"name":         order.Customer.Name,
			"total":        order.Total.StringFixed(2),
			"recovery_url": recoveryURL,
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "recovery notification failed", "order_id", order.ID, "error", err)
	}
}

func failed(err error, orderID string) CallbackResult {
	if isRejection(err) {
		return rejected(err, orderID)
	}
	return CallbackResult{Outcome: Transient, Reason: "transient", OrderID: orderID, Err: err}
}

func rejected(err error, orderID string) CallbackResult {
	return CallbackResult{Outcome: Rejected, Reason: reasonOf(err), OrderID: orderID, Err: err}
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrReservationExpired) ||
		errors.Is(err, domain.ErrMissingCorrelation) ||
		errors.Is(err, domain.ErrInvalidSignature) ||
		errors.Is(err, domain.ErrValidation)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrMissingCorrelation):
		return "missing_correlation"
	case errors.Is(err, domain.ErrReservationExpired):
		return "reservation_expired"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_payload"
	default:
		return "transient"
	}
}
