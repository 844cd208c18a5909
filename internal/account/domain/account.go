package domain

import (
	"errors"
	"time"
)

// Account is the core referral entity. PhoneNumber is both the identifier and the login handle.
type Account struct {
	PhoneNumber string
	Verified    bool
	// VerificationCode is set only while a verification attempt is pending.
	VerificationCode         string
	VerificationCodeIssuedAt *time.Time
	// InviteCode is assigned once at first successful verification and never changed.
	InviteCode string
	// RedeemedInviteCode is the invite code of another account that this account redeemed. Set at most once.
	RedeemedInviteCode string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Status is the verification state of an account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
)

// Status returns StatusVerified or StatusPending.
func (a *Account) Status() Status {
	if a.Verified {
		return StatusVerified
	}
	return StatusPending
}

// HasPendingCode reports whether a verification code is outstanding.
func (a *Account) HasPendingCode() bool {
	return a.VerificationCode != ""
}

// CodeExpired reports whether the pending code was issued more than ttl before now.
func (a *Account) CodeExpired(now time.Time, ttl time.Duration) bool {
	if a.VerificationCodeIssuedAt == nil {
		return true
	}
	return now.Sub(*a.VerificationCodeIssuedAt) > ttl
}

// IssueCode stores a fresh verification code and stamps its issuance time.
func (a *Account) IssueCode(code string, now time.Time) {
	t := now
	a.VerificationCode = code
	a.VerificationCodeIssuedAt = &t
}

// ClearCode removes the pending verification code and its timestamp.
func (a *Account) ClearCode() {
	a.VerificationCode = ""
	a.VerificationCodeIssuedAt = nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.VerificationCodeIssuedAt != nil {
		t := *a.VerificationCodeIssuedAt
		c.VerificationCodeIssuedAt = &t
	}
	return &c
}

// Validate checks the persisted invariants. Returns an error describing the first violation.
func (a *Account) Validate() error {
	if a.PhoneNumber == "" {
		return errors.New("phone number is required")
	}
	if a.RedeemedInviteCode != "" && a.RedeemedInviteCode == a.InviteCode {
		return errors.New("account cannot redeem its own invite code")
	}
	if a.InviteCode != "" && !a.Verified {
		return errors.New("invite code requires a verified account")
	}
	if a.Verified && a.VerificationCode != "" {
		return errors.New("verified account cannot hold a pending code")
	}
	return nil
}
