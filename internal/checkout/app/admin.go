package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const (
	noteAdminSuperseded = "Superseded by administrator entry"
	noteAdminCanceled   = "Order canceled by administrator"
)

type PaymentInput struct {
	Amount        decimal.Decimal      `json:"amount"`
	Method        domain.PaymentMethod `json:"method" validate:"required,oneof=card cash_on_delivery"`
	Status        domain.PaymentStatus `json:"status" validate:"required,oneof=pending completed failed"`
	TransactionID string               `json:"transaction_id,omitempty" validate:"max=255"`
	Notes         string               `json:"notes,omitempty" validate:"max=1000"`
}

// PaymentUpdate changes an existing attempt. Nil fields are left as they are.
type PaymentUpdate struct {
	Status        domain.PaymentStatus `json:"status" validate:"required,oneof=pending completed failed"`
	Amount        decimal.NullDecimal  `json:"amount,omitempty"`
	TransactionID *string              `json:"transaction_id,omitempty" validate:"omitempty,max=255"`
	Notes         *string              `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// PaymentChange is the payment after an administrator edit and the order
// state the edit reconciled to.
type PaymentChange struct {
	Payment *domain.Payment    `json:"payment,omitempty"`
	OrderID string             `json:"order_id"`
	Paid    bool               `json:"paid"`
	Status  domain.OrderStatus `json:"status"`
}

type OrderView struct {
	Order    *domain.Order    `json:"order"`
	Payments []domain.Payment `json:"payments"`
}

// GetOrder returns the order with its payment history. Customers see only
// their own orders.
func (s *Service) GetOrder(ctx context.Context, orderID string, requester Requester) (*OrderView, error) {
	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.owns(order) {
		// Hide existence from other customers.
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	payments, err := s.store.Payments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: order, Payments: payments}, nil
}

func (s *Service) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if _, err := s.store.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Payments(ctx, orderID)
}

// RecordPayment appends an attempt entered by an administrator and
// reconciles the order.
func (s *Service) RecordPayment(ctx context.Context, orderID string, in PaymentInput) (_ *PaymentChange, err error) {
	ctx, span := s.startSpan(ctx, "checkout.admin.record_payment")
	defer func() { endSpan(span, err) }()

	if err := s.validateStruct(in); err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}

	var change *PaymentChange
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if in.Status == domain.PaymentPending && in.Method.Online() {
			if err := failPendingOnline(ctx, tx, order.ID, noteAdminSuperseded, true); err != nil {
				return err
			}
		}

		p := &domain.Payment{
			OrderID:       order.ID,
			Amount:        in.Amount,
			Method:        in.Method,
			Status:        in.Status,
			TransactionID: in.TransactionID,
			Notes:         in.Notes,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		res, err := reconcileTx(ctx, tx, order)
		if err != nil {
			return err
		}
		change = &PaymentChange{Payment: p, OrderID: order.ID, Paid: res.Paid, Status: res.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment recorded by administrator",
		"order_id", orderID, "payment_id", change.Payment.ID, "status", change.Payment.Status)
	return change, nil
}

// UpdatePaymentStatus transitions an attempt and reconciles its order.
// A failure set by an administrator is terminal.
func (s *Service) UpdatePaymentStatus(ctx context.Context, paymentID int64, upd PaymentUpdate) (_ *PaymentChange, err error) {
	ctx, span := s.startSpan(ctx, "checkout.admin.update_payment")
	defer func() { endSpan(span, err) }()

	if err := s.validateStruct(upd); err != nil {
		return nil, err
	}
	if upd.Amount.Valid && upd.Amount.Decimal.IsNegative() {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}

	var change *PaymentChange
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		p, order, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		if upd.Status == domain.PaymentPending && p.Method.Online() && p.Status != domain.PaymentPending {
			if err := failPendingOnline(ctx, tx, order.ID, noteAdminSuperseded, true); err != nil {
				return err
			}
		}

		note := p.Notes
		if upd.Notes != nil {
			note = *upd.Notes
		}
		txID := p.TransactionID
		if upd.TransactionID != nil {
			txID = *upd.TransactionID
		}
		if upd.Amount.Valid {
			p.Amount = upd.Amount.Decimal
		}

		switch upd.Status {
		case domain.PaymentCompleted:
			p.Complete(txID, note)
		case domain.PaymentFailed:
			p.TransactionID = txID
			p.Fail(note, false)
		default:
			p.Status = domain.PaymentPending
			p.Retryable = false
			p.TransactionID = txID
			p.Notes = note
		}

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		res, err := reconcileTx(ctx, tx, order)
		if err != nil {
			return err
		}
		change = &PaymentChange{Payment: p, OrderID: order.ID, Paid: res.Paid, Status: res.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment updated by administrator",
		"order_id", change.OrderID, "payment_id", paymentID, "status", upd.Status)
	return change, nil
}

// DeletePayment removes an attempt and reconciles its order.
func (s *Service) DeletePayment(ctx context.Context, paymentID int64) (_ *PaymentChange, err error) {
	ctx, span := s.startSpan(ctx, "checkout.admin.delete_payment")
	defer func() { endSpan(span, err) }()

	var change *PaymentChange
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		p, order, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, p.ID); err != nil {
			return err
		}
		res, err := reconcileTx(ctx, tx, order)
		if err != nil {
			return err
		}
		change = &PaymentChange{OrderID: order.ID, Paid: res.Paid, Status: res.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment deleted by administrator", "order_id", change.OrderID, "payment_id", paymentID)
	return change, nil
}

// lockPayment locks the order owning a payment and reads the payment again
// under that lock, so concurrent callbacks and retries are not overwritten.
func lockPayment(ctx context.Context, tx ports.Tx, paymentID int64) (*domain.Payment, *domain.Order, error) {
	p, err := tx.Payment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	order, err := tx.LockOrder(ctx, p.OrderID)
	if err != nil {
		return nil, nil, err
	}
	p, err = tx.Payment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	return p, order, nil
}

// CancelOrder closes an unpaid order. Orders that are already completed or
// canceled, or that hold a settled payment, cannot be canceled.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (_ *OrderView, err error) {
	ctx, span := s.startSpan(ctx, "checkout.admin.cancel_order")
	defer func() { endSpan(span, err) }()

	note := noteAdminCanceled
	if reason != "" {
		note += ": " + reason
	}

	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderCompleted || order.Status == domain.OrderCanceled {
			return fmt.Errorf("%w: order %s is %s", domain.ErrConflict, order.ID, order.Status)
		}
		payments, err := tx.Payments(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status == domain.PaymentCompleted {
				return fmt.Errorf("%w: order %s has a settled payment", domain.ErrConflict, order.ID)
			}
		}
		return closeOrder(ctx, tx, order, payments, note)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order canceled by administrator", "order_id", orderID, "reason", reason)
	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.Payments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: order, Payments: payments}, nil
}

// closeOrder fails every pending attempt terminally and reconciles, which
// cancels the order. An order with no attempt to fail gets a terminal
// failed entry so the payment history explains the cancellation.
func closeOrder(ctx context.Context, tx ports.Tx, order *domain.Order, payments []domain.Payment, note string) error {
	method := domain.MethodCard
	closed := false
	for i := range payments {
		p := &payments[i]
		method = p.Method
		if p.Status != domain.PaymentPending {
			continue
		}
		p.Fail(note, false)
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		closed = true
	}

	if !closed {
		p := &domain.Payment{OrderID: order.ID, Amount: order.Total, Method: method}
		p.Fail(note, false)
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
	}

	_, err := reconcileTx(ctx, tx, order)
	return err
}
