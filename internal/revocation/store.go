// Package revocation records logged-out access tokens by jti until they would have expired.
package revocation

import (
	"context"
	"sync"
	"time"
)

// Store tracks revoked token IDs.
type Store interface {
	// Revoke marks jti revoked for ttl. A non-positive ttl is a no-op since the token is already expired.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryStore is an in-process Store. Entries are evicted lazily on lookup.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]time.Time // jti -> expiry
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory revocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]time.Time),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Revoke stores jti until now+ttl.
func (s *MemoryStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[jti] = s.nowF().Add(ttl)
	return nil
}

// IsRevoked reports whether jti is revoked and not yet expired.
func (s *MemoryStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.m[jti]
	if !ok {
		return false, nil
	}
	if !exp.After(s.nowF()) {
		delete(s.m, jti)
		return false, nil
	}
	return true, nil
}
