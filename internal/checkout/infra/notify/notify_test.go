package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

func TestRedisQueue_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(cache.NewFromClient(client, "checkout"), "mail")
	err := q.Send(context.Background(), ports.Notification{
		Template:  ports.TemplateAbandonedCheckout,
		Recipient: "ada@example.com",
		Data:      map[string]any{"order_id": "o-1", "recovery_url": "https://pay.example/r/1"},
	})
	require.NoError(t, err)

	items, err := mr.List("checkout:queue:mail")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, ports.TemplateAbandonedCheckout, got.Message.Template)
	assert.Equal(t, "ada@example.com", got.Message.Recipient)
	assert.Equal(t, "https://pay.example/r/1", got.Message.Data["recovery_url"])
}

func TestRedisQueue_RequiresRecipient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(cache.NewFromClient(client, "checkout"), "")
	assert.Error(t, q.Send(context.Background(), ports.Notification{Template: ports.TemplateAbandonedCheckout}))
}

func TestRedisQueue_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	q := NewRedisQueue(cache.NewFromClient(client, "checkout"), "mail")
	err := q.Send(context.Background(), ports.Notification{Template: "x", Recipient: "a@b.c"})
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), ports.Notification{Template: "t", Recipient: "a@b.c"}))
	assert.Contains(t, buf.String(), `"template":"t"`)
}
