package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// ReservationStore holds staged checkouts with a time-to-live. Take is the
// atomic consume: at most one caller receives a given reservation.
type ReservationStore interface {
	Put(ctx context.Context, r *domain.Reservation, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.Reservation, error)
	Take(ctx context.Context, id string) (*domain.Reservation, error)
	Delete(ctx context.Context, id string) error
}

type SessionLine struct {
	Name            string
	Quantity        int
	UnitAmountMinor int64
}

type CheckoutSessionRequest struct {
	Lines         []SessionLine
	Currency      string
	CustomerEmail string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
	// IdempotencyKey lets the processor collapse repeated attempts.
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentGateway opens processor-hosted payment pages.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
}

const (
	EventSessionCompleted = "checkout.session.completed"
	EventSessionExpired   = "checkout.session.expired"
)

// GatewayEvent is an authenticated processor notification.
type GatewayEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentIntent string
	PaymentStatus string
	AmountTotal   decimal.NullDecimal
	OrderID       string
	ReservationID string
	RecoveryURL   string
}

// EventVerifier authenticates and decodes a raw callback body.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*GatewayEvent, error)
}

// TemplateAbandonedCheckout invites the customer back to an expired
// checkout through the processor's recovery link.
const TemplateAbandonedCheckout = "abandoned_checkout_recovery"

type Notification struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
}

// Notifier delivers customer messages. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// BlobStore persists customization artifacts and returns their path.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}
