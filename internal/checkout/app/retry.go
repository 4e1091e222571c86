package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

type RetryResult struct {
	OrderID     string `json:"order_id"`
	PaymentID   int64  `json:"payment_id"`
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// RetryPayment opens a new checkout page for a pending order on behalf of
// its owner. The previous pending card attempt is failed first, so at most
// one card attempt is ever pending.
func (s *Service) RetryPayment(ctx context.Context, orderID string, requester Requester) (_ *RetryResult, err error) {
	ctx, span := s.startSpan(ctx, "checkout.retry")
	defer func() { endSpan(span, err) }()

	supersede := NewSupersedePaymentStep(s, orderID, requester)
	open := newLazySessionStep(s, supersede)
	attach := NewAttachSessionStep(s, orderID, open.OpenCheckoutSessionStep)

	payload := map[string]any{"order_id": orderID, "customer_id": requester.CustomerID, "reason": "manual_retry"}
	if err := s.runSaga(ctx, orderID, payload, supersede, open, attach); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment retry opened",
		"order_id", orderID, "payment_id", supersede.payment.ID, "session_id", open.Session().ID)
	return &RetryResult{
		OrderID:     orderID,
		PaymentID:   supersede.payment.ID,
		SessionID:   open.Session().ID,
		RedirectURL: open.Session().URL,
	}, nil
}

// lazySessionStep builds its session request from the order loaded by the
// preceding supersede step.
type lazySessionStep struct {
	*OpenCheckoutSessionStep
	svc       *Service
	supersede *SupersedePaymentStep
}

func newLazySessionStep(svc *Service, supersede *SupersedePaymentStep) *lazySessionStep {
	return &lazySessionStep{
		OpenCheckoutSessionStep: NewOpenCheckoutSessionStep(svc.gateway, ports.CheckoutSessionRequest{}),
		svc:                     svc,
		supersede:               supersede,
	}
}

func (s *lazySessionStep) Execute(ctx context.Context) error {
	order := s.supersede.order
	lines := orderLines(order)
	s.request = s.svc.sessionRequest(order.Customer.Email, lines,
		map[string]string{"order_id": order.ID},
		fmt.Sprintf("%s:%d", order.ID, s.supersede.payment.ID))
	return s.OpenCheckoutSessionStep.Execute(ctx)
}
