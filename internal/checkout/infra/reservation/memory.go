package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

var _ ports.ReservationStore = (*MemoryStore)(nil)

type memoryEntry struct {
	r         domain.Reservation
	expiresAt time.Time
}

// MemoryStore is a process-local reservation store for single-instance runs
// and tests. Expired entries are invisible to readers and removed by Purge.
type MemoryStore struct {
	mu  sync.RWMutex
	m   map[string]memoryEntry
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Put(_ context.Context, r *domain.Reservation, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("reservation: ttl must be positive, got %s", ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[r.ID] = memoryEntry{r: *r, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, id)
	}
	r := e.r
	return &r, nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, id)
	}
	delete(s.m, id)
	if !s.now().Before(e.expiresAt) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, id)
	}
	r := e.r
	return &r, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.m {
		if !now.Before(e.expiresAt) {
			delete(s.m, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
