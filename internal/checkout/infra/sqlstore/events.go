package sqlstore

import (
	"context"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// recordEvent inserts the processor event id. No inserted row means the
// event was handled by an earlier delivery. ON CONFLICT keeps a PostgreSQL
// transaction usable after the conflict.
func recordEvent(ctx context.Context, q querier, d dialect, eventID, eventType string) (bool, error) {
	const query = `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`

	res, err := q.ExecContext(ctx, d.rebind(query), eventID, eventType, d.timeArg(d.now()))
	if err != nil {
		return false, domain.Persistence("record event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Persistence("record event", err)
	}
	return n == 1, nil
}
