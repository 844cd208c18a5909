// Package codegen produces verification codes and invite codes from a randomness source.
package codegen

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
)

const (
	// VerificationCodeLen is the number of digits in a verification code.
	VerificationCodeLen = 4
	// InviteCodeLen is the number of characters in an invite code.
	InviteCodeLen = 6

	inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	verificationMin   = big.NewInt(1000)
	verificationRange = big.NewInt(9000)
	alphabetSize      = big.NewInt(int64(len(inviteAlphabet)))
)

// Generator draws codes uniformly from its reader.
type Generator struct {
	rand io.Reader
}

// New returns a Generator backed by r. A nil r uses crypto/rand.
func New(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// VerificationCode returns a 4-digit numeric code in 1000..9999.
func (g *Generator) VerificationCode() (string, error) {
	n, err := rand.Int(g.rand, verificationRange)
	if err != nil {
		return "", fmt.Errorf("verification code: %w", err)
	}
	return n.Add(n, verificationMin).String(), nil
}

// InviteCode returns a 6-character code drawn from A-Z, a-z and 0-9.
func (g *Generator) InviteCode() (string, error) {
	b := make([]byte, InviteCodeLen)
	for i := range b {
		n, err := rand.Int(g.rand, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("invite code: %w", err)
		}
		b[i] = inviteAlphabet[n.Int64()]
	}
	return string(b), nil
}

// CodesEqual performs constant-time comparison of two codes. Empty codes never match.
func CodesEqual(provided, stored string) bool {
	if provided == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) == 1
}

// IsVerificationCode reports whether s is exactly four ASCII digits.
func IsVerificationCode(s string) bool {
	if len(s) != VerificationCodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsInviteCode reports whether s has the invite code shape.
func IsInviteCode(s string) bool {
	if len(s) != InviteCodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
