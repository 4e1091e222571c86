package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/blob"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/gateway"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/notify"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/reservation"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/sqlstore"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/auth"
)

const (
	webhookSecret   = "whsec_test"
	signatureHeader = "Stripe-Signature"
)

type testServer struct {
	handler http.Handler
	store   *sqlstore.Store
	gateway *gateway.Fake
	tokens  *auth.Authenticator
}

func newTestServer(t *testing.T, flow app.Flow, ready func(context.Context) error) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(dir, "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertProduct(ctx, domain.Product{
		ID: 1, Name: "Mug", Price: decimal.RequireFromString("20.00"),
		DiscountPrice: decimal.NewNullDecimal(decimal.RequireFromString("15.00")),
	}))
	require.NoError(t, store.UpsertProduct(ctx, domain.Product{ID: 2, Name: "Cap", Price: decimal.RequireFromString("12.50")}))

	fake := gateway.NewFake()
	svc, err := app.NewService(app.Deps{
		Store:        store,
		Catalog:      store,
		Reservations: reservation.NewMemoryStore(),
		Gateway:      fake,
		Verifier:     gateway.NewWebhookVerifier(webhookSecret, 5*time.Minute),
		Notifier:     notify.NewLogNotifier(nil),
		Blobs:        blob.NewFSWriter(filepath.Join(dir, "blobs")),
		SagaLog:      store.SagaLog(),
	}, app.Options{Flow: flow})
	require.NoError(t, err)

	tokens, err := auth.NewAuthenticator("test-signing-key-0123456789abcdef", "storefront-checkout")
	require.NoError(t, err)

	h := NewHandler(svc, HandlerOptions{SignatureHeader: signatureHeader, Ready: ready})
	return &testServer{handler: NewRouter(h, tokens), store: store, gateway: fake, tokens: tokens}
}

func (s *testServer) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := s.tokens.Sign(id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) callback(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(payload))
	req.Header.Set(signatureHeader, signature)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	ada   = auth.Identity{CustomerID: "cus_1", Email: "ada@example.com", Role: auth.RoleCustomer}
	bob   = auth.Identity{CustomerID: "cus_2", Email: "bob@example.com", Role: auth.RoleCustomer}
	admin = auth.Identity{CustomerID: "adm_1", Email: "ops@example.com", Role: auth.RoleAdmin}
)

func checkoutBody(method domain.PaymentMethod, items ...app.LineRequest) map[string]any {
	return map[string]any{
		"customer": map[string]any{
			"name":    "Ada Lovelace",
			"email":   "ada@example.com",
			"phone":   "555-0100",
			"address": "1 Analytical Way",
		},
		"items":  items,
		"method": method,
	}
}

func completedEvent(t *testing.T, eventID, sessionID, reservationID string, amountMinor int64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": ports.EventSessionCompleted,
		"data": map[string]any{"object": map[string]any{
			"id":             sessionID,
			"payment_intent": "pi_" + sessionID,
			"payment_status": "paid",
			"amount_total":   amountMinor,
			"metadata":       map[string]string{"reservation_id": reservationID},
		}},
	})
	require.NoError(t, err)
	return b
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t, app.FlowReservation, func(context.Context) error { return errors.New("db down") })
	rec = down.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQuote(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)

	rec := s.do(t, http.MethodPost, "/checkout/quote", "", map[string]any{
		"items": []app.LineRequest{
			{ProductID: 1, Quantity: 2, Price: decimal.NewNullDecimal(decimal.RequireFromString("0.01"))},
			{ProductID: 2, Quantity: 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quote := decodeBody[QuoteResponse](t, rec)
	assert.Equal(t, "42.50", quote.Total)
	require.Len(t, quote.Items, 2)
	assert.Equal(t, "15.00", quote.Items[0].UnitPrice)
	assert.Equal(t, "30.00", quote.Items[0].LineTotal)
}

func TestQuote_Errors(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"empty items", map[string]any{"items": []any{}}, http.StatusBadRequest, "validation_failed"},
		{"unknown product", map[string]any{"items": []app.LineRequest{{ProductID: 99, Quantity: 1}}}, http.StatusUnprocessableEntity, "product_not_found"},
		{"malformed json", "not an object", http.StatusBadRequest, "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/checkout/quote", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCheckout_CashOnDeliveryThenGetOrder(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)
	adaToken := s.token(t, ada)

	rec := s.do(t, http.MethodPost, "/checkout", adaToken, checkoutBody(domain.MethodCashOnDelivery, app.LineRequest{ProductID: 1, Quantity: 2}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[app.CheckoutResult](t, rec)
	require.NotEmpty(t, res.OrderID)
	assert.Empty(t, res.RedirectURL)

	rec = s.do(t, http.MethodGet, "/orders/"+res.OrderID, adaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeBody[OrderResponse](t, rec)
	assert.Equal(t, "cus_1", order.CustomerID)
	assert.Equal(t, "30.00", order.Total)
	assert.Equal(t, string(domain.OrderPending), order.Status)
	require.Len(t, order.Payments, 1)
	assert.Equal(t, string(domain.MethodCashOnDelivery), order.Payments[0].Method)

	rec = s.do(t, http.MethodGet, "/orders/"+res.OrderID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/"+res.OrderID, s.token(t, bob), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/"+res.OrderID, s.token(t, admin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckout_IgnoresClientCustomerID(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)

	body := checkoutBody(domain.MethodCashOnDelivery, app.LineRequest{ProductID: 2, Quantity: 1})
	body["customer"].(map[string]any)["customer_id"] = "cus_2"

	rec := s.do(t, http.MethodPost, "/checkout", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[app.CheckoutResult](t, rec)

	order, err := s.store.Order(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Empty(t, order.Customer.CustomerID)
}

func TestCheckout_InvalidToken(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)
	rec := s.do(t, http.MethodPost, "/checkout", "garbage", checkoutBody(domain.MethodCard, app.LineRequest{ProductID: 1, Quantity: 1}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckout_GatewayUnavailable(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)
	s.gateway.SetErr(errors.New("connection refused"))

	rec := s.do(t, http.MethodPost, "/checkout", "", checkoutBody(domain.MethodCard, app.LineRequest{ProductID: 1, Quantity: 1}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "gateway_unavailable", decodeBody[ErrorResponse](t, rec).Error)
}

func TestCheckout_ValidationFields(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)

	body := checkoutBody(domain.MethodCard, app.LineRequest{ProductID: 1, Quantity: 1})
	body["customer"].(map[string]any)["email"] = "not-an-email"

	rec := s.do(t, http.MethodPost, "/checkout", "", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.NotEmpty(t, resp.Fields)
}

func TestPaymentCallback(t *testing.T) {
	s := newTestServer(t, app.FlowReservation, nil)

	rec := s.do(t, http.MethodPost, "/checkout", "", checkoutBody(domain.MethodCard, app.LineRequest{ProductID: 1, Quantity: 2}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[app.CheckoutResult](t, rec)
	require.NotEmpty(t, res.ReservationID)
	require.NotEmpty(t, res.RedirectURL)

	payload := completedEvent(t, "evt_http_1", res.SessionID, res.ReservationID, 3000)

	t.Run("bad signature", func(t *testing.T) {
		rec := s.callback(t, payload, "t=1,v1=deadbeef")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_signature", decodeBody[CallbackResponse](t, rec).Reason)
	})

	rec = s.callback(t, payload, gateway.Sign(webhookSecret, payload, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[CallbackResponse](t, rec)
	assert.Equal(t, "accepted", first.Status)
	assert.False(t, first.Duplicate)

	rec = s.callback(t, payload, gateway.Sign(webhookSecret, payload, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[CallbackResponse](t, rec).Duplicate)

	order, err := s.store.OrderBySessionToken(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, order.Paid)
	assert.Equal(t, domain.OrderCompleted, order.Status)
}

func TestRetryPayment(t *testing.T) {
	s := newTestServer(t, app.FlowOrder, nil)
	adaToken := s.token(t, ada)

	rec := s.do(t, http.MethodPost, "/checkout", adaToken, checkoutBody(domain.MethodCard, app.LineRequest{ProductID: 2, Quantity: 1}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[app.CheckoutResult](t, rec)

	rec = s.do(t, http.MethodPost, "/orders/"+res.OrderID+"/retry", s.token(t, bob), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/"+res.OrderID+"/retry", adaToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	retry := decodeBody[app.RetryResult](t, rec)
	assert.Equal(t, res.OrderID, retry.OrderID)
	assert.NotEqual(t, res.SessionID, retry.SessionID)
	assert.NotEmpty(t, retry.RedirectURL)
}

func TestAdmin_RequiresRole(t *testing.T) {
	s := newTestServer(t, app.FlowOrder, nil)

	rec := s.do(t, http.MethodGet, "/admin/orders/any/payments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/orders/any/payments", s.token(t, ada), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_PaymentLifecycle(t *testing.T) {
	s := newTestServer(t, app.FlowOrder, nil)
	adminToken := s.token(t, admin)

	rec := s.do(t, http.MethodPost, "/checkout", "", checkoutBody(domain.MethodCashOnDelivery, app.LineRequest{ProductID: 1, Quantity: 2}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orderID := decodeBody[app.CheckoutResult](t, rec).OrderID

	rec = s.do(t, http.MethodGet, "/admin/orders/"+orderID+"/payments", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payments := decodeBody[[]PaymentResponse](t, rec)
	require.Len(t, payments, 1)
	codID := payments[0].ID

	rec = s.do(t, http.MethodPatch, "/admin/payments/"+itoa(codID), adminToken, map[string]any{
		"status":         "completed",
		"transaction_id": "cash_001",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	change := decodeBody[PaymentChangeResponse](t, rec)
	assert.True(t, change.Paid)
	assert.Equal(t, string(domain.OrderCompleted), change.Status)

	rec = s.do(t, http.MethodPost, "/admin/orders/"+orderID+"/cancel", adminToken, CancelOrderRequest{Reason: "customer request"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/payments/"+itoa(codID), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	change = decodeBody[PaymentChangeResponse](t, rec)
	assert.Nil(t, change.Payment)
	assert.False(t, change.Paid)
	assert.Equal(t, string(domain.OrderPending), change.Status)

	rec = s.do(t, http.MethodPost, "/admin/orders/"+orderID+"/payments", adminToken, map[string]any{
		"amount": "30.00",
		"method": "card",
		"status": "completed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[PaymentChangeResponse](t, rec).Paid)

	rec = s.do(t, http.MethodPost, "/admin/orders/"+orderID+"/reconcile", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.OrderCompleted), decodeBody[PaymentChangeResponse](t, rec).Status)
}

func TestAdmin_CancelOrder(t *testing.T) {
	s := newTestServer(t, app.FlowOrder, nil)
	adminToken := s.token(t, admin)

	rec := s.do(t, http.MethodPost, "/checkout", "", checkoutBody(domain.MethodCard, app.LineRequest{ProductID: 2, Quantity: 1}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orderID := decodeBody[app.CheckoutResult](t, rec).OrderID

	rec = s.do(t, http.MethodPost, "/admin/orders/"+orderID+"/cancel", adminToken, CancelOrderRequest{Reason: "fraud"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeBody[OrderResponse](t, rec)
	assert.Equal(t, string(domain.OrderCanceled), order.Status)
	assert.False(t, order.Paid)
}

func TestAdmin_BadPaymentID(t *testing.T) {
	s := newTestServer(t, app.FlowOrder, nil)
	adminToken := s.token(t, admin)

	rec := s.do(t, http.MethodDelete, "/admin/payments/abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/payments/424242", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
