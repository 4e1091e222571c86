package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

func loadProduct(ctx context.Context, q querier, d dialect, id int64) (*domain.Product, error) {
	const query = `SELECT id, name, price, discount_price, status FROM products WHERE id = ?`

	var p domain.Product
	err := q.QueryRowContext(ctx, d.rebind(query), id).Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPrice, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, domain.Persistence("load product", err)
	}
	return &p, nil
}

// UpsertProduct creates or replaces a catalog entry. The catalog is owned
// elsewhere; this exists for seeding local databases and tests.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	const query = `
		INSERT INTO products (id, name, price, discount_price, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, price = excluded.price,
		    discount_price = excluded.discount_price, status = excluded.status`

	status := p.Status
	if status == "" {
		status = domain.ProductActive
	}

	_, err := s.db.ExecContext(ctx, s.d.rebind(query), p.ID, p.Name, p.Price, p.DiscountPrice, string(status))
	if err != nil {
		return domain.Persistence("upsert product", err)
	}
	return nil
}
