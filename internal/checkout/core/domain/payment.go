package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCard           PaymentMethod = "card"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Online reports whether the method settles through the external processor.
func (m PaymentMethod) Online() bool {
	return m == MethodCard
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// Payment is one attempt to settle an order. An order keeps the full history
// of attempts; transitions update a row in place, new attempts append.
type Payment struct {
	ID            int64
	OrderID       string
	Amount        decimal.Decimal
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	Notes         string

	// Retryable marks a failed attempt that the customer abandoned (session
	// expired, superseded by a manual retry, page never opened). Such
	// failures do not cancel the order on their own.
	Retryable bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fail moves the attempt to failed with the given note.
func (p *Payment) Fail(note string, retryable bool) {
	p.Status = PaymentFailed
	p.Notes = note
	p.Retryable = retryable
}

// Complete settles the attempt with the processor transaction reference.
func (p *Payment) Complete(transactionID, note string) {
	p.Status = PaymentCompleted
	p.Retryable = false
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.Notes = note
}
