// Package reservation holds staged online checkouts until their payment
// outcome arrives. Entries expire on their own; Take consumes an entry so
// that only one callback can turn it into an order.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

const keyOperation = "reservation"

var _ ports.ReservationStore = (*RedisStore)(nil)

// RedisStore keeps reservations as JSON values with a PX expiry.
type RedisStore struct {
	cache cache.Cache
}

func NewRedisStore(c cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Put(ctx context.Context, r *domain.Reservation, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("reservation: ttl must be positive, got %s", ttl)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("reservation: encode %s: %w", r.ID, err)
	}
	if err := s.cache.Set(ctx, s.key(r.ID), raw, ttl); err != nil {
		return domain.Persistence("put reservation", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	raw, err := s.cache.Get(ctx, s.key(id))
	return s.decode(id, raw, err)
}

func (s *RedisStore) Take(ctx context.Context, id string) (*domain.Reservation, error) {
	raw, err := s.cache.Take(ctx, s.key(id))
	return s.decode(id, raw, err)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, s.key(id)); err != nil {
		return domain.Persistence("delete reservation", err)
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.cache.GenerateKey(keyOperation, id)
}

func (s *RedisStore) decode(id, raw string, err error) (*domain.Reservation, error) {
	if errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, id)
	}
	if err != nil {
		return nil, domain.Persistence("read reservation", err)
	}
	var r domain.Reservation
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("reservation: decode %s: %w", id, err)
	}
	return &r, nil
}
