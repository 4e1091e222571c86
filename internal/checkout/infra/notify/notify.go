// Package notify delivers customer messages. The Redis queue hands jobs to
// the mailer worker; the log notifier is used where no queue is configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

var (
	_ ports.Notifier = (*RedisQueue)(nil)
	_ ports.Notifier = (*LogNotifier)(nil)
)

// job is the queue payload consumed by the mailer.
type job struct {
	ID         string             `json:"id"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
	Message    ports.Notification `json:"message"`
}

// RedisQueue appends notifications to a Redis list with RPUSH.
type RedisQueue struct {
	cache cache.Cache
	queue string
}

func NewRedisQueue(c cache.Cache, queue string) *RedisQueue {
	if queue == "" {
		queue = "notifications"
	}
	return &RedisQueue{cache: c, queue: queue}
}

func (q *RedisQueue) Send(ctx context.Context, n ports.Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notify: recipient required for %s", n.Template)
	}
	raw, err := json.Marshal(job{ID: uuid.NewString(), EnqueuedAt: time.Now().UTC(), Message: n})
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", n.Template, err)
	}
	if err := q.cache.Push(ctx, q.cache.GenerateKey("queue", q.queue), raw); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", n.Template, err)
	}
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(ctx context.Context, n ports.Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"template", n.Template,
		"recipient", n.Recipient,
		"data", n.Data,
	)
	return nil
}
