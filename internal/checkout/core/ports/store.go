package ports

import (
	"context"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// Store is the durable source of truth for orders and payments. All
// mutations go through WithinTx; the read methods are for callers that
// only need a consistent snapshot of a single order.
type Store interface {
	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Order(ctx context.Context, id string) (*domain.Order, error)
	OrderBySessionToken(ctx context.Context, token string) (*domain.Order, error)
	Payments(ctx context.Context, orderID string) ([]domain.Payment, error)

	// StaleOrders lists pending orders created at or before cutoff that have
	// no completed payment.
	StaleOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside a store transaction.
type Tx interface {
	// LockOrder loads the order with its items and holds a write lock on it
	// until the transaction ends.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	OrderBySessionToken(ctx context.Context, token string) (*domain.Order, error)

	// InsertOrder writes the order and its items. It returns
	// domain.ErrDuplicate when the session token or reservation id is
	// already bound to another order.
	InsertOrder(ctx context.Context, o *domain.Order) error
	DeleteOrder(ctx context.Context, id string) error
	SetSessionToken(ctx context.Context, orderID, token string) error
	SetOrderState(ctx context.Context, orderID string, paid bool, status domain.OrderStatus) error
	SetArtifacts(ctx context.Context, orderID string, customizedFile string, itemRefs map[int64]string) error

	Payments(ctx context.Context, orderID string) ([]domain.Payment, error)
	Payment(ctx context.Context, id int64) (*domain.Payment, error)
	LatestPendingPayment(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error)
	InsertPayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	DeletePayment(ctx context.Context, id int64) error

	// RecordEvent marks a processor event as handled. It returns false when
	// the event was recorded before.
	RecordEvent(ctx context.Context, eventID, eventType string) (bool, error)

	Product(ctx context.Context, id int64) (*domain.Product, error)
}

// Catalog resolves products for pricing.
type Catalog interface {
	Product(ctx context.Context, id int64) (*domain.Product, error)
}
