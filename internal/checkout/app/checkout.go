package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const noteCashOnDelivery = "Cash on Delivery - Awaiting delivery"

type CheckoutRequest struct {
	Customer domain.CustomerSnapshot `json:"customer"`
	Items    []LineRequest           `json:"items" validate:"required,min=1,max=100,dive"`
	Method   domain.PaymentMethod    `json:"method" validate:"required,oneof=card cash_on_delivery"`
}

// CheckoutResult carries OrderID for the immediate path and for the
// order-first online flow, ReservationID for the reservation flow, and a
// RedirectURL whenever the customer must visit the processor.
type CheckoutResult struct {
	OrderID       string `json:"order_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
}

// Checkout validates the request, prices it from the catalog and starts the
// checkout for the chosen payment method.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	lines, err := s.ValidateAndPrice(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	return s.StartCheckout(ctx, req.Customer, lines, req.Method)
}

// StartCheckout persists the order immediately for offline methods. Online
// methods either stage a reservation or persist a pending order, depending
// on the configured flow, and then open a processor checkout page.
func (s *Service) StartCheckout(ctx context.Context, customer domain.CustomerSnapshot, lines *domain.ValidatedLines, method domain.PaymentMethod) (_ *CheckoutResult, err error) {
	ctx, span := s.startSpan(ctx, "checkout.start")
	defer func() { endSpan(span, err) }()

	if err := s.validateStruct(customer); err != nil {
		return nil, err
	}
	if lines == nil || len(lines.Lines) == 0 {
		return nil, domain.NewValidationError("items", "is required")
	}
	switch method {
	case domain.MethodCard, domain.MethodCashOnDelivery:
	default:
		return nil, domain.NewValidationError("method", "must be one of: card cash_on_delivery")
	}

	if !method.Online() {
		return s.checkoutImmediate(ctx, customer, lines, method)
	}
	if s.opts.Flow == FlowOrder {
		return s.checkoutOrderFirst(ctx, customer, lines)
	}
	return s.checkoutReservation(ctx, customer, lines)
}

func (s *Service) checkoutImmediate(ctx context.Context, customer domain.CustomerSnapshot, lines *domain.ValidatedLines, method domain.PaymentMethod) (*CheckoutResult, error) {
	order := s.buildOrder(customer, lines)
	payment := &domain.Payment{
		Amount: order.Total,
		Method: method,
		Status: domain.PaymentPending,
		Notes:  noteCashOnDelivery,
	}
	if err := s.persistOrder(ctx, order, lines.Lines, payment); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order placed", "order_id", order.ID, "method", method, "total", order.Total.String())
	s.storeArtifacts(ctx, order, lines.Lines)
	return &CheckoutResult{OrderID: order.ID}, nil
}

func (s *Service) checkoutReservation(ctx context.Context, customer domain.CustomerSnapshot, lines *domain.ValidatedLines) (*CheckoutResult, error) {
	now := s.now().UTC()
	res := &domain.Reservation{
		ID:        uuid.NewString(),
		Customer:  customer,
		Lines:     lines.Lines,
		Total:     lines.Total,
		Method:    domain.MethodCard,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.ReservationTTL),
	}

	stage := NewStageReservationStep(s.reservations, s.catalog, res, s.opts.ReservationTTL)
	open := NewOpenCheckoutSessionStep(s.gateway,
		s.sessionRequest(customer.Email, lines.Lines, map[string]string{"reservation_id": res.ID}, res.ID))

	if err := s.runSaga(ctx, res.ID, sagaPayload(res.ID, "", customer, lines), stage, open); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "checkout staged", "reservation_id", res.ID, "session_id", open.Session().ID, "total", res.Total.String())
	return &CheckoutResult{
		ReservationID: res.ID,
		SessionID:     open.Session().ID,
		RedirectURL:   open.Session().URL,
	}, nil
}

func (s *Service) checkoutOrderFirst(ctx context.Context, customer domain.CustomerSnapshot, lines *domain.ValidatedLines) (*CheckoutResult, error) {
	order := s.buildOrder(customer, lines)
	payment := &domain.Payment{
		Amount: order.Total,
		Method: domain.MethodCard,
		Status: domain.PaymentPending,
		Notes:  noteCheckoutCreated,
	}

	persist := NewPersistOrderStep(s, order, lines.Lines, payment)
	open := NewOpenCheckoutSessionStep(s.gateway,
		s.sessionRequest(customer.Email, lines.Lines, map[string]string{"order_id": order.ID}, order.ID))
	attach := NewAttachSessionStep(s, order.ID, open)

	if err := s.runSaga(ctx, order.ID, sagaPayload("", order.ID, customer, lines), persist, open, attach); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order awaiting payment", "order_id", order.ID, "session_id", open.Session().ID, "total", order.Total.String())
	s.storeArtifacts(ctx, order, lines.Lines)
	return &CheckoutResult{
		OrderID:     order.ID,
		SessionID:   open.Session().ID,
		RedirectURL: open.Session().URL,
	}, nil
}

// persistOrder writes the order, its items and the first payment attempt,
// then reconciles. Product availability is re-read inside the transaction
// so nothing is written for a product deactivated after pricing.
func (s *Service) persistOrder(ctx context.Context, order *domain.Order, lines []domain.PricedLine, payment *domain.Payment) error {
	return s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := recheckAvailability(ctx, tx.Product, lines); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		payment.OrderID = order.ID
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		_, err := reconcileTx(ctx, tx, order)
		return err
	})
}

func (s *Service) buildOrder(customer domain.CustomerSnapshot, lines *domain.ValidatedLines) *domain.Order {
	return orderFromLines(uuid.NewString(), customer, lines.Lines, lines.Total)
}

func orderFromLines(id string, customer domain.CustomerSnapshot, lines []domain.PricedLine, total decimal.Decimal) *domain.Order {
	order := &domain.Order{
		ID:       id,
		Customer: customer,
		Total:    total,
		Status:   domain.OrderPending,
		Items:    make([]domain.OrderItem, len(lines)),
	}
	for i, l := range lines {
		order.Items[i] = domain.OrderItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return order
}

func (s *Service) sessionRequest(email string, lines []domain.PricedLine, metadata map[string]string, idempotencyKey string) ports.CheckoutSessionRequest {
	req := ports.CheckoutSessionRequest{
		Lines:          make([]ports.SessionLine, len(lines)),
		Currency:       s.opts.Currency,
		CustomerEmail:  email,
		Metadata:       metadata,
		SuccessURL:     s.opts.SuccessURL,
		CancelURL:      s.opts.CancelURL,
		ExpiresAt:      s.now().Add(s.opts.SessionTTL),
		IdempotencyKey: idempotencyKey,
	}
	for i, l := range lines {
		req.Lines[i] = ports.SessionLine{
			Name:            l.Name,
			Quantity:        l.Quantity,
			UnitAmountMinor: domain.MinorUnits(l.UnitPrice),
		}
	}
	return req
}

// sagaPayload is the STARTED row of a checkout saga. Customization data is
// left out.
func sagaPayload(reservationID, orderID string, customer domain.CustomerSnapshot, lines *domain.ValidatedLines) map[string]any {
	items := make([]map[string]any, len(lines.Lines))
	for i, l := range lines.Lines {
		items[i] = map[string]any{
			"product_id": l.ProductID,
			"quantity":   l.Quantity,
			"unit_price": l.UnitPrice.String(),
		}
	}
	out := map[string]any{
		"email": customer.Email,
		"total": lines.Total.String(),
		"items": items,
	}
	if reservationID != "" {
		out["reservation_id"] = reservationID
	}
	if orderID != "" {
		out["order_id"] = orderID
	}
	return out
}

// orderLines rebuilds priced lines from stored order items, using the unit
// prices captured when the order was placed.
func orderLines(order *domain.Order) []domain.PricedLine {
	lines := make([]domain.PricedLine, len(order.Items))
	for i, it := range order.Items {
		lines[i] = domain.PricedLine{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal(),
		}
	}
	return lines
}
