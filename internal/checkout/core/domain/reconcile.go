package domain

import "github.com/shopspring/decimal"

// ReconcileResult is the paid flag and lifecycle status derived from an
// order's payment history. Changed is false when the order already matches.
type ReconcileResult struct {
	Paid           bool
	Status         OrderStatus
	TotalCompleted decimal.Decimal
	Changed        bool
}

// Reconcile derives the order state from the full set of its payments:
//
//	paid      = some completed payment AND sum(completed) >= total
//	completed   when paid
//	canceled    when nothing completed and a non-retryable attempt failed
//	pending     otherwise
//
// It has no side effects.
func Reconcile(order *Order, payments []Payment) ReconcileResult {
	totalCompleted := decimal.Zero
	hasCompleted := false
	hasTerminalFailure := false

	for _, p := range payments {
		switch p.Status {
		case PaymentCompleted:
			hasCompleted = true
			totalCompleted = totalCompleted.Add(p.Amount)
		case PaymentFailed:
			if !p.Retryable {
				hasTerminalFailure = true
			}
		}
	}

	paid := hasCompleted && totalCompleted.GreaterThanOrEqual(order.Total)

	status := OrderPending
	switch {
	case paid:
		status = OrderCompleted
	case !hasCompleted && hasTerminalFailure:
		status = OrderCanceled
	}

	return ReconcileResult{
		Paid:           paid,
		Status:         status,
		TotalCompleted: totalCompleted,
		Changed:        paid != order.Paid || status != order.Status,
	}
}
