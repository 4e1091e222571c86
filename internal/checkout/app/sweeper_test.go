package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

func TestSweeper_Sweep(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	card, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)
	cod := placeCOD(t, h)
	paid, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)
	out := h.callback(ctx, sessionEvent(t, eventOpts{id: "evt_p", typ: ports.EventSessionCompleted, sessionID: paid.SessionID, paymentStatus: "paid", orderID: paid.OrderID}))
	require.Equal(t, Accepted, out.Outcome)

	sweeper := NewSweeper(h.svc, SweeperOptions{Horizon: 24 * time.Hour}, h.store, h.reservations)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned, "fresh orders are left alone")

	h.clock.Advance(48 * time.Hour)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Canceled: 1}, report)

	assert.Equal(t, domain.OrderCanceled, h.order(t, card.OrderID).Status)
	payments := h.payments(t, card.OrderID)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentFailed, payments[0].Status)
	assert.Equal(t, noteWindowExpired, payments[0].Notes)

	assert.Equal(t, domain.OrderPending, h.order(t, cod).Status)
	assert.Equal(t, domain.OrderCompleted, h.order(t, paid.OrderID).Status)

	// Canceled orders are no longer stale.
	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestSweeper_CashOnDeliveryDoesNotStarveBatch(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	placeCOD(t, h)
	placeCOD(t, h)
	card, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	sweeper := NewSweeper(h.svc, SweeperOptions{Horizon: 24 * time.Hour, BatchSize: 2}, h.store, nil)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Canceled: 1}, report)
	assert.Equal(t, domain.OrderCanceled, h.order(t, card.OrderID).Status)
}

func TestSweeper_SweepAfterExpiredSession(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)
	out := h.callback(ctx, sessionEvent(t, eventOpts{id: "evt_e", typ: ports.EventSessionExpired, sessionID: res.SessionID, orderID: res.OrderID}))
	require.Equal(t, Accepted, out.Outcome)
	require.Equal(t, domain.OrderPending, h.order(t, res.OrderID).Status)

	h.clock.Advance(48 * time.Hour)
	report, err := NewSweeper(h.svc, SweeperOptions{}, nil, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Canceled)

	payments := h.payments(t, res.OrderID)
	require.Len(t, payments, 2)
	assert.True(t, payments[0].Retryable)
	assert.False(t, payments[1].Retryable)
	assert.Equal(t, domain.OrderCanceled, h.order(t, res.OrderID).Status)
}

func TestSweeper_Prune(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	card, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)
	cod := placeCOD(t, h)

	sweeper := NewSweeper(h.svc, SweeperOptions{Horizon: 24 * time.Hour, Prune: true}, h.store, h.reservations)

	n, err := sweeper.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(48 * time.Hour)
	n, err = sweeper.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.store.Order(ctx, card.OrderID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = h.store.Order(ctx, cod)
	assert.NoError(t, err, "orders awaiting cash on delivery are kept")
}

func TestSweeper_RunPurgesReservations(t *testing.T) {
	h := newHarness(t, FlowReservation)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, 1, h.reservations.Len())

	h.clock.Advance(25 * time.Hour)

	sweeper := NewSweeper(h.svc, SweeperOptions{Interval: time.Hour}, h.store, h.reservations)
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	assert.Eventually(t, func() bool { return h.reservations.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
