package repository

import (
	"context"
	"errors"

	"referral-system/internal/account/domain"
)

var (
	// ErrAccountExists is returned by Create when the phone number is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrNotFound is returned by Update when no account has the phone number.
	ErrNotFound = errors.New("account not found")
	// ErrInviteCodeTaken is returned by Update when the new invite code belongs to another account.
	ErrInviteCodeTaken = errors.New("invite code already taken")
)

// UpdateFunc mutates the locked account. Returning an error aborts the write.
type UpdateFunc func(a *domain.Account) error

// Repository defines persistence for accounts.
// Lookups return nil, nil when nothing matches; errors are reserved for storage failures.
type Repository interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Account, error)
	GetByInviteCode(ctx context.Context, code string) (*domain.Account, error)
	// Create inserts a new account. Returns ErrAccountExists if the phone number is taken.
	Create(ctx context.Context, a *domain.Account) error
	// Update runs fn on the account row under an exclusive lock and persists the result.
	// InviteCode and RedeemedInviteCode are never overwritten once set.
	Update(ctx context.Context, phone string, fn UpdateFunc) (*domain.Account, error)
	// ListByRedeemedInviteCode returns accounts that redeemed code, ordered by phone number.
	ListByRedeemedInviteCode(ctx context.Context, code string) ([]*domain.Account, error)
	Ping(ctx context.Context) error
}
