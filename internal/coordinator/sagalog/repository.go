package sagalog

import "context"

// Repository persists saga log entries. The table is append-only.
type Repository interface {
	Save(ctx context.Context, entry *SagaLog) error
	History(ctx context.Context, sagaID string) ([]SagaLog, error)
}
