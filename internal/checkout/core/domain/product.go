package domain

import "github.com/shopspring/decimal"

type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

type Product struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	DiscountPrice decimal.NullDecimal
	Status        ProductStatus
}

// EffectivePrice is the discount price when one is set, positive and below
// the list price; otherwise the list price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.IsPositive() && p.DiscountPrice.Decimal.LessThan(p.Price) {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

func (p Product) Available() bool {
	return p.Status == ProductActive
}
