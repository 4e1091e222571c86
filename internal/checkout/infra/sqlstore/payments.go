package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

const paymentColumns = `id, order_id, amount, method, status, COALESCE(transaction_id, ''), notes, retryable, created_at, updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&p.TransactionID,
		&p.Notes,
		&p.Retryable,
		scanTime(&p.CreatedAt),
		scanTime(&p.UpdatedAt),
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listPayments(ctx context.Context, q querier, d dialect, orderID string) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM order_payments WHERE order_id = ? ORDER BY id`

	rows, err := q.QueryContext(ctx, d.rebind(query), orderID)
	if err != nil {
		return nil, domain.Persistence("list payments", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.Persistence("scan payment", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list payments", err)
	}
	return out, nil
}

func loadPayment(ctx context.Context, q querier, d dialect, id int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM order_payments WHERE id = ?`

	p, err := scanPayment(q.QueryRowContext(ctx, d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrPaymentNotFound, id)
	}
	if err != nil {
		return nil, domain.Persistence("load payment", err)
	}
	return p, nil
}

// latestPendingPayment returns the newest pending attempt for the method, or
// domain.ErrPaymentNotFound.
func latestPendingPayment(ctx context.Context, q querier, d dialect, orderID string, method domain.PaymentMethod) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM   order_payments
		WHERE  order_id = ? AND method = ? AND status = ?
		ORDER  BY id DESC
		LIMIT  1`

	p, err := scanPayment(q.QueryRowContext(ctx, d.rebind(query), orderID, string(method), string(domain.PaymentPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no pending %s payment for %s", domain.ErrPaymentNotFound, method, orderID)
	}
	if err != nil {
		return nil, domain.Persistence("load pending payment", err)
	}
	return p, nil
}

func insertPayment(ctx context.Context, q querier, d dialect, p *domain.Payment) error {
	now := d.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	const query = `
		INSERT INTO order_payments
			(order_id, amount, method, status, transaction_id, notes, retryable, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := q.QueryRowContext(ctx, d.rebind(query),
		p.OrderID,
		p.Amount,
		string(p.Method),
		string(p.Status),
		nullableString(p.TransactionID),
		p.Notes,
		p.Retryable,
		d.timeArg(p.CreatedAt),
		d.timeArg(p.UpdatedAt),
	).Scan(&p.ID)
	if err != nil {
		return domain.Persistence("insert payment", err)
	}
	return nil
}

func updatePayment(ctx context.Context, q querier, d dialect, p *domain.Payment) error {
	p.UpdatedAt = d.now()

	const query = `
		UPDATE order_payments
		SET    amount = ?, method = ?, status = ?, transaction_id = ?, notes = ?, retryable = ?, updated_at = ?
		WHERE  id = ?`

	res, err := q.ExecContext(ctx, d.rebind(query),
		p.Amount,
		string(p.Method),
		string(p.Status),
		nullableString(p.TransactionID),
		p.Notes,
		p.Retryable,
		d.timeArg(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return domain.Persistence("update payment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrPaymentNotFound, p.ID)
	}
	return nil
}

func deletePayment(ctx context.Context, q querier, d dialect, id int64) error {
	res, err := q.ExecContext(ctx, d.rebind(`DELETE FROM order_payments WHERE id = ?`), id)
	if err != nil {
		return domain.Persistence("delete payment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrPaymentNotFound, id)
	}
	return nil
}
