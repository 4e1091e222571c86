package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

func sessionRequest() ports.CheckoutSessionRequest {
	return ports.CheckoutSessionRequest{
		Lines:          []ports.SessionLine{{Name: "Mug", Quantity: 2, UnitAmountMinor: 1250}},
		Currency:       "usd",
		CustomerEmail:  "ada@example.com",
		Metadata:       map[string]string{"order_id": "o-1"},
		SuccessURL:     "https://shop.example/success",
		CancelURL:      "https://shop.example/cancel",
		ExpiresAt:      time.Unix(1_800_000_000, 0),
		IdempotencyKey: "o-1:1",
	}
}

func TestClient_CreateCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "o-1:1", r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "o-1", r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, "1250", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "2", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "Mug", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "1800000000", r.PostForm.Get("expires_at"))
		assert.Equal(t, "true", r.PostForm.Get("after_expiration[recovery][enabled]"))
		assert.Equal(t, "ada@example.com", r.PostForm.Get("customer_email"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_123","url":"https://pay.example/cs_123"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, SecretKey: "sk_test", HTTP: srv.Client()})
	require.NoError(t, err)

	sess, err := c.CreateCheckoutSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_123", sess.ID)
	assert.Equal(t, "https://pay.example/cs_123", sess.URL)
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad"}}`))
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"missing url", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"cs_1"}`))
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := NewClient(Config{BaseURL: srv.URL, SecretKey: "sk", HTTP: srv.Client()})
			require.NoError(t, err)

			_, err = c.CreateCheckoutSession(context.Background(), sessionRequest())
			assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL, SecretKey: "sk", HTTP: &http.Client{Timeout: 50 * time.Millisecond}})
	require.NoError(t, err)

	_, err = c.CreateCheckoutSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.True(t, IsUnavailable(err))
}

func TestNewClient_RequiresConfig(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "https://api.example"})
	assert.Error(t, err)
}

const completedEvent = `{
  "id": "evt_1",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_123",
    "payment_intent": "pi_9",
    "payment_status": "paid",
    "amount_total": 2500,
    "metadata": {"reservation_id": "res-1"}
  }}
}`

func TestWebhookVerifier(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	v := NewWebhookVerifier("whsec", 5*time.Minute).WithClock(func() time.Time { return now })
	payload := []byte(completedEvent)

	t.Run("valid", func(t *testing.T) {
		ev, err := v.Verify(payload, Sign("whsec", payload, now))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, ports.EventSessionCompleted, ev.Type)
		assert.Equal(t, "cs_123", ev.SessionID)
		assert.Equal(t, "pi_9", ev.PaymentIntent)
		assert.Equal(t, "paid", ev.PaymentStatus)
		assert.Equal(t, "res-1", ev.ReservationID)
		require.True(t, ev.AmountTotal.Valid)
		assert.Equal(t, "25", ev.AmountTotal.Decimal.String())
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(payload, Sign("other", payload, now))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := Sign("whsec", payload, now)
		_, err := v.Verify(append([]byte(" "), payload...), header)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		_, err := v.Verify(payload, Sign("whsec", payload, now.Add(-10*time.Minute)))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing or malformed header", func(t *testing.T) {
		for _, h := range []string{"", "garbage", "t=abc,v1=00", "t=1800000000"} {
			_, err := v.Verify(payload, h)
			assert.ErrorIs(t, err, domain.ErrInvalidSignature, h)
		}
	})

	t.Run("one of several signatures matches", func(t *testing.T) {
		header := Sign("whsec", payload, now) + ",v1=deadbeef"
		_, err := v.Verify(payload, header)
		assert.NoError(t, err)
	})

	t.Run("unsigned verifier", func(t *testing.T) {
		_, err := NewWebhookVerifier("", 0).Verify(payload, Sign("", payload, time.Now()))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestDecodeEvent_Expired(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"id":"evt_2","type":"checkout.session.expired","data":{"object":{
		"id":"cs_1","metadata":{"order_id":"o-1"},
		"after_expiration":{"recovery":{"url":"https://pay.example/r/1"}}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "o-1", ev.OrderID)
	assert.Equal(t, "https://pay.example/r/1", ev.RecoveryURL)
	assert.False(t, ev.AmountTotal.Valid)

	_, err = decodeEvent([]byte(`{"type":"x"}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFake(t *testing.T) {
	f := NewFake()
	s1, err := f.CreateCheckoutSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	s2, err := f.CreateCheckoutSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Len(t, f.Requests(), 2)

	f.SetErr(domain.ErrGatewayUnavailable)
	_, err = f.CreateCheckoutSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}
