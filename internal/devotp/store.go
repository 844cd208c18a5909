// Package devotp provides the in-memory outbox of stub-delivered verification codes,
// read back through GET /api/v1/dev/verification-codes/:phone_number when dev OTP mode is enabled.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Message is the last verification code delivered to a phone number.
type Message struct {
	PhoneNumber string
	Code        string
	SentAt      time.Time
	ExpiresAt   time.Time
}

// Store holds the latest code per phone number for dev-only retrieval. Not used in production.
type Store interface {
	// Put records code as delivered to phone, readable until expiresAt. A later Put for the same phone replaces it.
	Put(ctx context.Context, phone, code string, expiresAt time.Time)
	// Get returns the message for phone if present and not expired. Returns ok false if missing or expired.
	Get(ctx context.Context, phone string) (msg Message, ok bool)
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]Message
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]Message),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for phone until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, phone, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[phone] = Message{PhoneNumber: phone, Code: code, SentAt: s.nowF(), ExpiresAt: expiresAt}
}

// Get returns the message for phone if present and not expired. Expired entries are evicted.
func (s *MemoryStore) Get(ctx context.Context, phone string) (Message, bool) {
	s.mu.RLock()
	msg, ok := s.m[phone]
	s.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	if !msg.ExpiresAt.After(s.nowF()) {
		s.mu.Lock()
		if cur, still := s.m[phone]; still && cur == msg {
			delete(s.m, phone)
		}
		s.mu.Unlock()
		return Message{}, false
	}
	return msg, true
}

// Len reports the number of stored messages, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
