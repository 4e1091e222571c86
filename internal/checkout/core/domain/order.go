package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCanceled   OrderStatus = "canceled"
)

// CustomerSnapshot is the contact data captured when the order is placed.
// It is copied onto the order row and never joined back to a live profile.
type CustomerSnapshot struct {
	CustomerID string `json:"customer_id,omitempty"`
	Name       string `json:"name" validate:"required,max=255"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,max=50"`
	Address    string `json:"address" validate:"required,max=500"`
	City       string `json:"city,omitempty" validate:"max=100"`
	Zipcode    string `json:"zipcode,omitempty" validate:"max=20"`
}

type Order struct {
	ID             string
	Customer       CustomerSnapshot
	Total          decimal.Decimal
	Status         OrderStatus
	Paid           bool
	Customized     bool
	CustomizedFile string

	// SessionToken is the processor checkout session bound to this order.
	// Unique across orders when set.
	SessionToken string

	// ReservationID is set when the order was materialised from a reservation.
	ReservationID string

	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether the order belongs to the given customer. Orders
// placed anonymously are matched on the snapshot email.
func (o *Order) OwnedBy(customerID, email string) bool {
	if o.Customer.CustomerID != "" {
		return o.Customer.CustomerID == customerID
	}
	return email != "" && o.Customer.Email == email
}

type OrderItem struct {
	ID          int64
	OrderID     string
	ProductID   int64
	Name        string
	Quantity    int
	UnitPrice   decimal.Decimal
	ArtifactRef string
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
