package sqlstore

import (
	"context"
	"fmt"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
)

// SagaLog returns the saga audit repository sharing this store's database.
func (s *Store) SagaLog() *SagaLogRepository {
	return &SagaLogRepository{s: s}
}

// SagaLogRepository is the database/sql implementation of
// sagalog.Repository. The table is append-only: one row per transition.
type SagaLogRepository struct {
	s *Store
}

var _ sagalog.Repository = (*SagaLogRepository)(nil)

// Save inserts a new saga log entry. It is safe to call concurrently.
func (r *SagaLogRepository) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	const q = `
		INSERT INTO saga_logs
			(saga_id, status, current_step, payload, error_messages, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.s.db.ExecContext(ctx, r.s.d.rebind(q),
		entry.SagaID,
		string(entry.Status),
		entry.CurrentStep,
		nullableString(entry.Payload),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		r.s.d.timeArg(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: save saga log for %q: %w", entry.SagaID, err)
	}
	return nil
}

// History returns every transition recorded for sagaID, oldest first.
func (r *SagaLogRepository) History(ctx context.Context, sagaID string) ([]sagalog.SagaLog, error) {
	const q = `
		SELECT saga_id, status, current_step, COALESCE(payload, ''), error_messages,
		       trace_id, span_id, updated_at
		FROM   saga_logs
		WHERE  saga_id = ?
		ORDER  BY updated_at, id`

	rows, err := r.s.db.QueryContext(ctx, r.s.d.rebind(q), sagaID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: saga history for %q: %w", sagaID, err)
	}
	defer rows.Close()

	var out []sagalog.SagaLog
	for rows.Next() {
		var e sagalog.SagaLog
		if err := rows.Scan(
			&e.SagaID,
			&e.Status,
			&e.CurrentStep,
			&e.Payload,
			&e.ErrorMessages,
			&e.TraceID,
			&e.SpanID,
			scanTime(&e.UpdatedAt),
		); err != nil {
			return nil, fmt.Errorf("sqlstore: scan saga log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: saga history for %q: %w", sagaID, err)
	}
	return out, nil
}
