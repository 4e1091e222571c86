package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

const (
	maxRequestBody  = 16 << 20
	maxCallbackBody = 1 << 20
)

// CheckoutService is the set of use cases served over HTTP.
type CheckoutService interface {
	ValidateAndPrice(ctx context.Context, lines []app.LineRequest) (*domain.ValidatedLines, error)
	Checkout(ctx context.Context, req app.CheckoutRequest) (*app.CheckoutResult, error)
	HandleCallback(ctx context.Context, payload []byte, signatureHeader string) app.CallbackResult
	RetryPayment(ctx context.Context, orderID string, requester app.Requester) (*app.RetryResult, error)
	GetOrder(ctx context.Context, orderID string, requester app.Requester) (*app.OrderView, error)
	Reconcile(ctx context.Context, orderID string) (domain.ReconcileResult, error)
	ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
	RecordPayment(ctx context.Context, orderID string, in app.PaymentInput) (*app.PaymentChange, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, upd app.PaymentUpdate) (*app.PaymentChange, error)
	DeletePayment(ctx context.Context, paymentID int64) (*app.PaymentChange, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*app.OrderView, error)
}

type HandlerOptions struct {
	// SignatureHeader carries the processor's callback signature.
	SignatureHeader string
	// Ready reports whether the service's dependencies are reachable.
	Ready func(ctx context.Context) error
}

// Handler translates HTTP requests into checkout use cases.
type Handler struct {
	svc  CheckoutService
	opts HandlerOptions
}

func NewHandler(svc CheckoutService, opts HandlerOptions) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Stripe-Signature"
	}
	return &Handler{svc: svc, opts: opts}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Quote prices the requested lines without starting a checkout.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []app.LineRequest `json:"items"`
	}
	if !decode(w, r, &req) {
		return
	}
	lines, err := h.svc.ValidateAndPrice(r.Context(), req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapQuote(lines))
}

// Checkout starts a checkout. The customer id always comes from the token;
// anonymous callers check out as guests.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req app.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	req.Customer.CustomerID = ""
	if id, ok := identityFrom(r.Context()); ok {
		req.Customer.CustomerID = id.CustomerID
		if req.Customer.Email == "" {
			req.Customer.Email = id.Email
		}
	}

	res, err := h.svc.Checkout(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// PaymentCallback acknowledges processor notifications. The processor
// redelivers on 5xx and gives up on 4xx.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	res := h.svc.HandleCallback(r.Context(), payload, r.Header.Get(h.opts.SignatureHeader))
	body := CallbackResponse{Status: res.Outcome.String(), Reason: res.Reason, Duplicate: res.Duplicate}
	switch res.Outcome {
	case app.Accepted:
		writeJSON(w, http.StatusOK, body)
	case app.Rejected:
		writeJSON(w, http.StatusBadRequest, body)
	default:
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"), requesterFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(view.Order, view.Payments))
}

func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RetryPayment(r.Context(), chi.URLParam(r, "id"), requesterFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.ListPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapPayments(payments))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var in app.PaymentInput
	if !decode(w, r, &in) {
		return
	}
	change, err := h.svc.RecordPayment(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapPaymentChange(change))
}

func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}
	var upd app.PaymentUpdate
	if !decode(w, r, &upd) {
		return
	}
	change, err := h.svc.UpdatePaymentStatus(r.Context(), id, upd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapPaymentChange(change))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}
	change, err := h.svc.DeletePayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapPaymentChange(change))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	view, err := h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(view.Order, view.Payments))
}

func (h *Handler) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	res, err := h.svc.Reconcile(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentChangeResponse{OrderID: orderID, Paid: res.Paid, Status: string(res.Status)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
	return false
}

func paymentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_payment_id", "payment id must be a positive integer")
		return 0, false
	}
	return id, true
}
