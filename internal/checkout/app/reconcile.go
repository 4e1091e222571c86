package app

import (
	"context"
	"log/slog"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

// Reconcile recomputes an order's paid flag and status from its payments.
// Calling it again without intervening payment changes writes nothing.
func (s *Service) Reconcile(ctx context.Context, orderID string) (_ domain.ReconcileResult, err error) {
	ctx, span := s.startSpan(ctx, "checkout.reconcile")
	defer func() { endSpan(span, err) }()

	var res domain.ReconcileResult
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		res, err = reconcileTx(ctx, tx, order)
		return err
	})
	return res, err
}

// reconcileTx applies domain.Reconcile to a locked order and writes the
// result only when it differs. order is updated in place.
func reconcileTx(ctx context.Context, tx ports.Tx, order *domain.Order) (domain.ReconcileResult, error) {
	payments, err := tx.Payments(ctx, order.ID)
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	res := domain.Reconcile(order, payments)
	if !res.Changed {
		return res, nil
	}
	if err := tx.SetOrderState(ctx, order.ID, res.Paid, res.Status); err != nil {
		return res, err
	}

	slog.InfoContext(ctx, "order reconciled",
		"order_id", order.ID,
		"from_status", order.Status,
		"to_status", res.Status,
		"paid", res.Paid,
		"total_completed", res.TotalCompleted.String(),
	)
	order.Paid = res.Paid
	order.Status = res.Status
	return res, nil
}
