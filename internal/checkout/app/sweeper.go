package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const noteWindowExpired = "Payment window expired"

// OrderPruner hard-deletes abandoned orders.
type OrderPruner interface {
	PruneOrders(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReservationPurger drops expired reservations from stores without native
// expiry.
type ReservationPurger interface {
	Purge() int
}

type SweeperOptions struct {
	Interval  time.Duration
	Horizon   time.Duration
	BatchSize int
	// Prune deletes abandoned orders instead of only canceling them.
	Prune bool
}

type SweepReport struct {
	Scanned  int `json:"scanned"`
	Canceled int `json:"canceled"`
	Skipped  int `json:"skipped"`
}

// Sweeper cancels orders left pending past the horizon. It never touches an
// order with a completed payment or one awaiting cash on delivery.
type Sweeper struct {
	svc    *Service
	opts   SweeperOptions
	pruner OrderPruner
	purger ReservationPurger
}

// NewSweeper builds a sweeper. pruner and purger may be nil.
func NewSweeper(svc *Service, opts SweeperOptions, pruner OrderPruner, purger ReservationPurger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Sweeper{svc: svc, opts: opts, pruner: pruner, purger: purger}
}

// Run sweeps on every tick until ctx is canceled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sweeper started", "interval", w.opts.Interval.String(), "horizon", w.opts.Horizon.String())
	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Sweeper) tick(ctx context.Context) {
	if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "sweep failed", "error", err)
	}
	if w.opts.Prune {
		if _, err := w.Prune(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "prune failed", "error", err)
		}
	}
	if w.purger != nil {
		if n := w.purger.Purge(); n > 0 {
			slog.InfoContext(ctx, "expired reservations purged", "count", n)
		}
	}
}

// Sweep cancels one batch of stale orders. Per-order failures are collected
// and the sweep moves on.
func (w *Sweeper) Sweep(ctx context.Context) (_ SweepReport, err error) {
	ctx, span := w.svc.startSpan(ctx, "checkout.sweep")
	defer func() { endSpan(span, err) }()

	cutoff := w.svc.now().Add(-w.opts.Horizon)
	ids, err := w.svc.store.StaleOrders(ctx, cutoff, w.opts.BatchSize)
	if err != nil {
		return SweepReport{}, err
	}

	var (
		report SweepReport
		errs   []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report.Scanned++
		canceled, err := w.expire(ctx, id, cutoff)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "stale order not expired", "order_id", id, "error", err)
			errs = append(errs, err)
		case canceled:
			report.Canceled++
		default:
			report.Skipped++
		}
	}

	if report.Scanned > 0 {
		slog.InfoContext(ctx, "sweep finished", "scanned", report.Scanned, "canceled", report.Canceled, "skipped", report.Skipped)
	}
	return report, errors.Join(errs...)
}

// expire re-checks the order under lock before canceling it.
func (w *Sweeper) expire(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	canceled := false
	err := w.svc.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPending || order.CreatedAt.After(cutoff) {
			return nil
		}
		payments, err := tx.Payments(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status == domain.PaymentCompleted {
				_, err := reconcileTx(ctx, tx, order)
				return err
			}
			if p.Status == domain.PaymentPending && !p.Method.Online() {
				return nil
			}
		}
		if err := closeOrder(ctx, tx, order, payments, noteWindowExpired); err != nil {
			return err
		}
		canceled = order.Status == domain.OrderCanceled
		return nil
	})
	return canceled, err
}

// Prune hard-deletes pending or canceled orders older than the horizon that
// never received a completed payment.
func (w *Sweeper) Prune(ctx context.Context) (int64, error) {
	if w.pruner == nil {
		return 0, nil
	}
	n, err := w.pruner.PruneOrders(ctx, w.svc.now().Add(-w.opts.Horizon))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "abandoned orders pruned", "count", n)
	}
	return n, nil
}
