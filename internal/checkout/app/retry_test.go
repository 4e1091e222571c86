package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

func owner() Requester {
	return Requester{CustomerID: "cus_1", Email: "ada@example.com"}
}

func pendingCount(ps []domain.Payment) int {
	n := 0
	for _, p := range ps {
		if p.Status == domain.PaymentPending {
			n++
		}
	}
	return n
}

func TestRetryPayment(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 2}))
	require.NoError(t, err)

	retry, err := h.svc.RetryPayment(ctx, res.OrderID, owner())
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, retry.OrderID)
	assert.NotEqual(t, res.SessionID, retry.SessionID)
	assert.NotEqual(t, res.RedirectURL, retry.RedirectURL)

	payments := h.payments(t, res.OrderID)
	require.Len(t, payments, 2)
	assert.Equal(t, domain.PaymentFailed, payments[0].Status)
	assert.True(t, payments[0].Retryable)
	assert.Equal(t, noteRetrySuperseded, payments[0].Notes)
	assert.Equal(t, domain.PaymentPending, payments[1].Status)
	assert.Equal(t, retry.PaymentID, payments[1].ID)
	assert.Equal(t, noteManualRetry, payments[1].Notes)
	assert.Equal(t, 1, pendingCount(payments))

	order := h.order(t, res.OrderID)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, retry.SessionID, order.SessionToken)

	req, _ := h.gateway.LastRequest()
	assert.Equal(t, fmt.Sprintf("%s:%d", res.OrderID, retry.PaymentID), req.IdempotencyKey)
	assert.Equal(t, res.OrderID, req.Metadata["order_id"])
	require.Len(t, req.Lines, 1)
	assert.Equal(t, 2, req.Lines[0].Quantity)
	assert.Equal(t, int64(1250), req.Lines[0].UnitAmountMinor)
}

func TestRetryPayment_AfterExpiry(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)
	out := h.callback(ctx, sessionEvent(t, eventOpts{id: "evt_e", typ: ports.EventSessionExpired, sessionID: res.SessionID, orderID: res.OrderID}))
	require.Equal(t, Accepted, out.Outcome)

	_, err = h.svc.RetryPayment(ctx, res.OrderID, owner())
	require.NoError(t, err)

	payments := h.payments(t, res.OrderID)
	require.Len(t, payments, 2)
	assert.Equal(t, noteSessionExpired, payments[0].Notes)
	assert.Equal(t, 1, pendingCount(payments))
}

func TestRetryPayment_Denied(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)

	_, err = h.svc.RetryPayment(ctx, res.OrderID, Requester{CustomerID: "cus_2", Email: "eve@example.com"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.RetryPayment(ctx, "no-such-order", owner())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	out := h.callback(ctx, sessionEvent(t, eventOpts{id: "evt_p", typ: ports.EventSessionCompleted, sessionID: res.SessionID, paymentStatus: "paid", orderID: res.OrderID}))
	require.Equal(t, Accepted, out.Outcome)

	_, err = h.svc.RetryPayment(ctx, res.OrderID, owner())
	assert.ErrorIs(t, err, domain.ErrNotPending)

	// Nothing changed for the rejected attempts.
	payments := h.payments(t, res.OrderID)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentCompleted, payments[0].Status)
	assert.Len(t, h.gateway.Requests(), 1)
}

func TestRetryPayment_GuestMatchedByEmail(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	guest := customer()
	guest.CustomerID = ""
	res, err := h.svc.Checkout(ctx, CheckoutRequest{Customer: guest, Items: []LineRequest{{ProductID: 2, Quantity: 1}}, Method: domain.MethodCard})
	require.NoError(t, err)

	_, err = h.svc.RetryPayment(ctx, res.OrderID, Requester{Email: "ada@example.com"})
	assert.NoError(t, err)
}

func TestRetryPayment_GatewayDown(t *testing.T) {
	h := newHarness(t, FlowOrder)
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, cardCheckout(LineRequest{ProductID: 2, Quantity: 1}))
	require.NoError(t, err)

	h.gateway.SetErr(errors.New("timeout"))
	_, err = h.svc.RetryPayment(ctx, res.OrderID, owner())
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	payments := h.payments(t, res.OrderID)
	require.Len(t, payments, 2)
	assert.Zero(t, pendingCount(payments))
	assert.Equal(t, noteSessionOpenFailed, payments[1].Notes)
	assert.True(t, payments[1].Retryable)

	order := h.order(t, res.OrderID)
	assert.Equal(t, domain.OrderPending, order.Status, "a failed retry must not cancel the order")

	h.gateway.SetErr(nil)
	_, err = h.svc.RetryPayment(ctx, res.OrderID, owner())
	require.NoError(t, err)
	assert.Equal(t, 1, pendingCount(h.payments(t, res.OrderID)))
}
