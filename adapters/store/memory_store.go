package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/ports"
)

// MemoryStore is an in-memory NonceLedger for single-instance deployments and tests
type MemoryStore struct {
	consumed map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory nonce ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consumed: make(map[string]time.Time),
		now:      time.Now,
	}
}

var _ ports.NonceLedger = (*MemoryStore)(nil)

// Consume marks a nonce as used
func (s *MemoryStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, exists := s.consumed[nonce]; exists && now.Before(expiry) {
		return core.ErrNonceUsed
	}

	s.consumed[nonce] = now.Add(ttl)
	s.prune(now)
	return nil
}

// Len returns the number of live entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now())
	return len(s.consumed)
}

// prune drops expired entries; callers hold mu.
func (s *MemoryStore) prune(now time.Time) {
	for nonce, expiry := range s.consumed {
		if !now.Before(expiry) {
			delete(s.consumed, nonce)
		}
	}
}
