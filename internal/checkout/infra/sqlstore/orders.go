package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

const orderColumns = `id, COALESCE(customer_id, ''), name, email, phone, address, city, zipcode,
	total, status, is_paid, is_customized, COALESCE(customized_file, ''),
	COALESCE(session_token, ''), COALESCE(reservation_id, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.Customer.CustomerID,
		&o.Customer.Name,
		&o.Customer.Email,
		&o.Customer.Phone,
		&o.Customer.Address,
		&o.Customer.City,
		&o.Customer.Zipcode,
		&o.Total,
		&o.Status,
		&o.Paid,
		&o.Customized,
		&o.CustomizedFile,
		&o.SessionToken,
		&o.ReservationID,
		scanTime(&o.CreatedAt),
		scanTime(&o.UpdatedAt),
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func loadOrder(ctx context.Context, q querier, d dialect, id string, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if lock {
		query += d.forUpdate
	}

	o, err := scanOrder(q.QueryRowContext(ctx, d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, domain.Persistence("load order", err)
	}

	if o.Items, err = loadItems(ctx, q, d, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func orderBySessionToken(ctx context.Context, q querier, d dialect, token string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE session_token = ?`

	o, err := scanOrder(q.QueryRowContext(ctx, d.rebind(query), token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", domain.ErrOrderNotFound, token)
	}
	if err != nil {
		return nil, domain.Persistence("load order by session", err)
	}

	if o.Items, err = loadItems(ctx, q, d, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func loadItems(ctx context.Context, q querier, d dialect, orderID string) ([]domain.OrderItem, error) {
	const query = `
		SELECT id, order_id, product_id, name, quantity, unit_price, COALESCE(artifact_ref, '')
		FROM   order_items
		WHERE  order_id = ?
		ORDER  BY id`

	rows, err := q.QueryContext(ctx, d.rebind(query), orderID)
	if err != nil {
		return nil, domain.Persistence("load items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice, &it.ArtifactRef); err != nil {
			return nil, domain.Persistence("scan item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("load items", err)
	}
	return items, nil
}

func insertOrder(ctx context.Context, q querier, d dialect, o *domain.Order) error {
	now := d.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	const query = `
		INSERT INTO orders
			(id, customer_id, name, email, phone, address, city, zipcode, total, status,
			 is_paid, is_customized, customized_file, session_token, reservation_id, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, d.rebind(query),
		o.ID,
		nullableString(o.Customer.CustomerID),
		o.Customer.Name,
		o.Customer.Email,
		o.Customer.Phone,
		o.Customer.Address,
		o.Customer.City,
		o.Customer.Zipcode,
		o.Total,
		string(o.Status),
		o.Paid,
		o.Customized,
		nullableString(o.CustomizedFile),
		nullableString(o.SessionToken),
		nullableString(o.ReservationID),
		d.timeArg(o.CreatedAt),
		d.timeArg(o.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order for session %q or reservation %q", domain.ErrDuplicate, o.SessionToken, o.ReservationID)
		}
		return domain.Persistence("insert order", err)
	}

	const itemQuery = `
		INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, artifact_ref)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := q.QueryRowContext(ctx, d.rebind(itemQuery),
			it.OrderID, it.ProductID, it.Name, it.Quantity, it.UnitPrice, nullableString(it.ArtifactRef),
		).Scan(&it.ID)
		if err != nil {
			return domain.Persistence("insert item", err)
		}
	}
	return nil
}

func deleteOrder(ctx context.Context, q querier, d dialect, id string) error {
	for _, query := range []string{
		`DELETE FROM order_payments WHERE order_id = ?`,
		`DELETE FROM order_items WHERE order_id = ?`,
		`DELETE FROM orders WHERE id = ?`,
	} {
		if _, err := q.ExecContext(ctx, d.rebind(query), id); err != nil {
			return domain.Persistence("delete order", err)
		}
	}
	return nil
}

func setSessionToken(ctx context.Context, q querier, d dialect, orderID, token string) error {
	const query = `UPDATE orders SET session_token = ?, updated_at = ? WHERE id = ?`

	res, err := q.ExecContext(ctx, d.rebind(query), nullableString(token), d.timeArg(d.now()), orderID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %q already bound", domain.ErrDuplicate, token)
		}
		return domain.Persistence("set session token", err)
	}
	return expectOne(res, orderID)
}

func setOrderState(ctx context.Context, q querier, d dialect, orderID string, paid bool, status domain.OrderStatus) error {
	const query = `UPDATE orders SET is_paid = ?, status = ?, updated_at = ? WHERE id = ?`

	res, err := q.ExecContext(ctx, d.rebind(query), paid, string(status), d.timeArg(d.now()), orderID)
	if err != nil {
		return domain.Persistence("set order state", err)
	}
	return expectOne(res, orderID)
}

func setArtifacts(ctx context.Context, q querier, d dialect, orderID, customizedFile string, itemRefs map[int64]string) error {
	const query = `UPDATE orders SET is_customized = ?, customized_file = ?, updated_at = ? WHERE id = ?`

	res, err := q.ExecContext(ctx, d.rebind(query),
		customizedFile != "", nullableString(customizedFile), d.timeArg(d.now()), orderID)
	if err != nil {
		return domain.Persistence("set artifacts", err)
	}
	if err := expectOne(res, orderID); err != nil {
		return err
	}

	const itemQuery = `UPDATE order_items SET artifact_ref = ? WHERE id = ? AND order_id = ?`
	for itemID, ref := range itemRefs {
		if _, err := q.ExecContext(ctx, d.rebind(itemQuery), nullableString(ref), itemID, orderID); err != nil {
			return domain.Persistence("set item artifact", err)
		}
	}
	return nil
}

func expectOne(res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return nil
}

// StaleOrders lists pending orders created at or before cutoff, oldest
// first. Orders with a completed payment or still awaiting an offline
// payment are left out, so they never crowd a batch.
func (s *Store) StaleOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const query = `
		SELECT o.id
		FROM   orders o
		WHERE  o.status = ?
		  AND  o.created_at <= ?
		  AND  NOT EXISTS (
		         SELECT 1 FROM order_payments p
		         WHERE  p.order_id = o.id
		           AND  (p.status = ? OR (p.status = ? AND p.method <> ?)))
		ORDER  BY o.created_at
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query),
		string(domain.OrderPending), s.d.timeArg(cutoff),
		string(domain.PaymentCompleted), string(domain.PaymentPending), string(domain.MethodCard), limit)
	if err != nil {
		return nil, domain.Persistence("stale orders", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Persistence("scan stale order", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("stale orders", err)
	}
	return ids, nil
}

// PruneOrders hard-deletes pending or canceled orders created at or before
// cutoff that never received a completed payment. Orders still awaiting an
// offline payment are kept. Items and payments go with them. It returns the
// number of orders removed.
func (s *Store) PruneOrders(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.withinRawTx(ctx, func(ctx context.Context, q querier) error {
		const sel = `
			SELECT o.id
			FROM   orders o
			WHERE  o.status IN (?, ?)
			  AND  o.created_at <= ?
			  AND  NOT EXISTS (
			         SELECT 1 FROM order_payments p
			         WHERE  p.order_id = o.id
			           AND  (p.status = ? OR (p.status = ? AND p.method <> ?)))`

		rows, err := q.QueryContext(ctx, s.d.rebind(sel),
			string(domain.OrderPending), string(domain.OrderCanceled), s.d.timeArg(cutoff),
			string(domain.PaymentCompleted), string(domain.PaymentPending), string(domain.MethodCard))
		if err != nil {
			return domain.Persistence("select prunable orders", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return domain.Persistence("scan prunable order", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return domain.Persistence("select prunable orders", err)
		}

		for _, id := range ids {
			if err := deleteOrder(ctx, q, s.d, id); err != nil {
				return err
			}
		}
		removed = int64(len(ids))
		return nil
	})
	return removed, err
}

// withinRawTx runs fn against the bare transaction, for maintenance paths
// that do not go through ports.Tx.
func (s *Store) withinRawTx(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Persistence("begin tx", err)
	}
	if err := fn(ctx, sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return domain.Persistence("commit", err)
	}
	return nil
}
