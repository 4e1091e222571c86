package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// LineRequest is one requested checkout line. Price and Name are accepted
// for compatibility with older clients and never used for pricing.
type LineRequest struct {
	ProductID     int64                 `json:"product_id" validate:"required,gt=0"`
	Quantity      int                   `json:"quantity" validate:"required,min=1,max=1000"`
	Price         decimal.NullDecimal   `json:"price,omitempty"`
	Name          string                `json:"name,omitempty"`
	Customization *domain.Customization `json:"customization,omitempty"`
}

type pricingInput struct {
	Items []LineRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// ValidateAndPrice re-derives unit prices and the grand total from the
// catalog. Lookups run concurrently; the first failure cancels the rest.
func (s *Service) ValidateAndPrice(ctx context.Context, lines []LineRequest) (_ *domain.ValidatedLines, err error) {
	ctx, span := s.startSpan(ctx, "checkout.price")
	defer func() { endSpan(span, err) }()

	if err := s.validateStruct(pricingInput{Items: lines}); err != nil {
		return nil, err
	}

	products := make([]*domain.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.PricingConcurrency)
	for i, line := range lines {
		g.Go(func() error {
			p, err := s.catalog.Product(gctx, line.ProductID)
			if err != nil {
				return err
			}
			if !p.Available() {
				return fmt.Errorf("%w: %d", domain.ErrProductUnavailable, p.ID)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrProductNotFound) || errors.Is(err, domain.ErrProductUnavailable) {
			return nil, err
		}
		return nil, domain.Persistence("catalog lookup", err)
	}

	out := &domain.ValidatedLines{Lines: make([]domain.PricedLine, len(lines)), Total: decimal.Zero}
	for i, line := range lines {
		p := products[i]
		unit := p.EffectivePrice()
		lineTotal := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
		out.Lines[i] = domain.PricedLine{
			ProductID:     p.ID,
			Name:          p.Name,
			Quantity:      line.Quantity,
			UnitPrice:     unit,
			LineTotal:     lineTotal,
			Customization: line.Customization,
		}
		out.Total = out.Total.Add(lineTotal)
	}
	return out, nil
}

// recheckAvailability fails with domain.ErrProductUnavailable if any priced
// line's product went inactive after pricing.
func recheckAvailability(ctx context.Context, lookup func(context.Context, int64) (*domain.Product, error), lines []domain.PricedLine) error {
	for _, l := range lines {
		p, err := lookup(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return fmt.Errorf("%w: %d", domain.ErrProductUnavailable, l.ProductID)
			}
			return err
		}
		if !p.Available() {
			return fmt.Errorf("%w: %d", domain.ErrProductUnavailable, l.ProductID)
		}
	}
	return nil
}
