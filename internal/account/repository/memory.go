package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"referral-system/internal/account/domain"
)

// MemoryRepository is an in-memory Repository for development and tests.
// A single mutex serializes writes, which gives Update the same row-lock semantics as Postgres.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	byInvite map[string]string // invite_code -> phone_number
	nowF     func() time.Time
}

// NewMemoryRepository returns an empty in-memory account store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]*domain.Account),
		byInvite: make(map[string]string),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// GetByPhone returns a copy of the account for phone, or nil if not found.
func (r *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts[phone].Clone(), nil
}

// GetByInviteCode returns a copy of the account owning code, or nil if not found.
func (r *MemoryRepository) GetByInviteCode(ctx context.Context, code string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	phone, ok := r.byInvite[code]
	if !ok {
		return nil, nil
	}
	return r.accounts[phone].Clone(), nil
}

// Create stores a copy of a. Returns ErrAccountExists when the phone number is taken.
func (r *MemoryRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.PhoneNumber]; ok {
		return ErrAccountExists
	}
	if a.InviteCode != "" {
		if _, ok := r.byInvite[a.InviteCode]; ok {
			return ErrInviteCodeTaken
		}
	}
	now := r.nowF()
	c := a.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.accounts[c.PhoneNumber] = c
	if c.InviteCode != "" {
		r.byInvite[c.InviteCode] = c.PhoneNumber
	}
	a.CreatedAt, a.UpdatedAt = c.CreatedAt, c.UpdatedAt
	return nil
}

// Update runs fn on a copy of the account while holding the write lock and stores the result.
func (r *MemoryRepository) Update(ctx context.Context, phone string, fn UpdateFunc) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.accounts[phone]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.PhoneNumber = current.PhoneNumber
	next.CreatedAt = current.CreatedAt
	if current.InviteCode != "" {
		next.InviteCode = current.InviteCode
	}
	if current.RedeemedInviteCode != "" {
		next.RedeemedInviteCode = current.RedeemedInviteCode
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if next.InviteCode != "" && current.InviteCode == "" {
		if owner, taken := r.byInvite[next.InviteCode]; taken && owner != phone {
			return nil, ErrInviteCodeTaken
		}
		r.byInvite[next.InviteCode] = phone
	}
	next.UpdatedAt = r.nowF()
	r.accounts[phone] = next
	return next.Clone(), nil
}

// ListByRedeemedInviteCode returns copies of accounts that redeemed code, sorted by phone number.
func (r *MemoryRepository) ListByRedeemedInviteCode(ctx context.Context, code string) ([]*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Account
	for _, a := range r.accounts {
		if a.RedeemedInviteCode == code {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhoneNumber < out[j].PhoneNumber })
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}
