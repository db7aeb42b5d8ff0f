package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
)

// InMemoryThrottleStore implements billing.ThrottleStore with a map.
// Only for single-instance deployments and tests; state is lost on restart.
type InMemoryThrottleStore struct {
	mu      sync.Mutex
	lastRun map[uuid.UUID]time.Time
}

// NewInMemoryThrottleStore creates an empty store
func NewInMemoryThrottleStore() *InMemoryThrottleStore {
	return &InMemoryThrottleStore{lastRun: make(map[uuid.UUID]time.Time)}
}

// Claim succeeds when the vendor's last pass is at least window old
func (s *InMemoryThrottleStore) Claim(_ context.Context, vendorID uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastRun[vendorID]; ok && last.After(now.Add(-window)) {
		return false, nil
	}
	s.lastRun[vendorID] = now
	return true, nil
}

// Size returns the number of vendors tracked
func (s *InMemoryThrottleStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastRun)
}

var _ billing.ThrottleStore = (*InMemoryThrottleStore)(nil)
