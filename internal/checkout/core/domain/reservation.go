package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customization is a client-supplied artifact attached to a line, kept
// encoded until it is written to blob storage.
type Customization struct {
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data" validate:"required,base64"`
}

// PricedLine is a checkout line with server-derived prices.
type PricedLine struct {
	ProductID     int64           `json:"product_id"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
	Customization *Customization  `json:"customization,omitempty"`
}

type ValidatedLines struct {
	Lines []PricedLine
	Total decimal.Decimal
}

// Reservation is a staged online checkout awaiting its payment outcome.
// It lives only in the reservation store and is consumed once.
type Reservation struct {
	ID        string           `json:"id"`
	Customer  CustomerSnapshot `json:"customer"`
	Lines     []PricedLine     `json:"lines"`
	Total     decimal.Decimal  `json:"total"`
	Method    PaymentMethod    `json:"method"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
