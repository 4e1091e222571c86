package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/blob"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/gateway"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/reservation"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/sqlstore"
)

const webhookSecret = "whsec_test"

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
}

func (n *recordingNotifier) Send(_ context.Context, msg ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) Sent() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Notification(nil), n.sent...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc          *Service
	store        *sqlstore.Store
	reservations *reservation.MemoryStore
	gateway      *gateway.Fake
	notifier     *recordingNotifier
	clock        *testClock
	blobRoot     string
}

func newHarness(t *testing.T, flow Flow) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(dir, "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:    store,
		gateway:  gateway.NewFake(),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Now()},
		blobRoot: filepath.Join(dir, "blobs"),
	}
	h.reservations = reservation.NewMemoryStore().WithClock(h.clock.Now)
	store.WithClock(h.clock.Now)

	h.svc, err = NewService(Deps{
		Store:        store,
		Catalog:      store,
		Reservations: h.reservations,
		Gateway:      h.gateway,
		Verifier:     gateway.NewWebhookVerifier(webhookSecret, 5*time.Minute),
		Notifier:     h.notifier,
		Blobs:        blob.NewFSWriter(h.blobRoot),
		SagaLog:      store.SagaLog(),
		Now:          h.clock.Now,
	}, Options{
		Flow:       flow,
		SuccessURL: "https://shop.example.com/checkout/success",
		CancelURL:  "https://shop.example.com/checkout/cancel",
	})
	require.NoError(t, err)

	h.seedProduct(t, domain.Product{ID: 1, Name: "Mug", Price: dec("20.00"), DiscountPrice: decimal.NewNullDecimal(dec("15.00"))})
	h.seedProduct(t, domain.Product{ID: 2, Name: "Cap", Price: dec("12.50")})
	h.seedProduct(t, domain.Product{ID: 3, Name: "Retired", Price: dec("5.00"), Status: domain.ProductInactive})
	return h
}

func (h *harness) seedProduct(t *testing.T, p domain.Product) {
	t.Helper()
	require.NoError(t, h.store.UpsertProduct(context.Background(), p))
}

func (h *harness) payments(t *testing.T, orderID string) []domain.Payment {
	t.Helper()
	ps, err := h.store.Payments(context.Background(), orderID)
	require.NoError(t, err)
	return ps
}

func (h *harness) order(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	o, err := h.store.Order(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

// callback delivers a signed processor event.
func (h *harness) callback(ctx context.Context, payload []byte) CallbackResult {
	return h.svc.HandleCallback(ctx, payload, gateway.Sign(webhookSecret, payload, time.Now()))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func customer() domain.CustomerSnapshot {
	return domain.CustomerSnapshot{
		CustomerID: "cus_1",
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
		Phone:      "555-0100",
		Address:    "1 Analytical Way",
		City:       "London",
	}
}

type eventOpts struct {
	id            string
	typ           string
	sessionID     string
	paymentStatus string
	orderID       string
	reservationID string
	amountMinor   *int64
	recoveryURL   string
}

func sessionEvent(t *testing.T, o eventOpts) []byte {
	t.Helper()
	metadata := map[string]string{}
	if o.orderID != "" {
		metadata["order_id"] = o.orderID
	}
	if o.reservationID != "" {
		metadata["reservation_id"] = o.reservationID
	}
	obj := map[string]any{
		"id":             o.sessionID,
		"payment_intent": "pi_" + o.sessionID,
		"metadata":       metadata,
	}
	if o.paymentStatus != "" {
		obj["payment_status"] = o.paymentStatus
	}
	if o.amountMinor != nil {
		obj["amount_total"] = *o.amountMinor
	}
	if o.recoveryURL != "" {
		obj["after_expiration"] = map[string]any{"recovery": map[string]any{"url": o.recoveryURL}}
	}
	b, err := json.Marshal(map[string]any{
		"id":   o.id,
		"type": o.typ,
		"data": map[string]any{"object": obj},
	})
	require.NoError(t, err)
	return b
}

func minor(n int64) *int64 { return &n }

func cardCheckout(items ...LineRequest) CheckoutRequest {
	return CheckoutRequest{Customer: customer(), Items: items, Method: domain.MethodCard}
}

func signFor(payload []byte) string {
	return gateway.Sign(webhookSecret, payload, time.Now())
}
