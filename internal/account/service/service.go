// Package service implements the account verification and invite redemption state machine.
package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"referral-system/internal/account/domain"
	"referral-system/internal/account/repository"
	"referral-system/internal/sms"
	"referral-system/internal/telemetry"
)

const (
	tracerName = "referral-system/account"

	minPhoneDigits = 10
	maxPhoneDigits = 15

	// DefaultCodeTTL is how long a verification code stays valid.
	DefaultCodeTTL = 10 * time.Minute
	// DefaultMaxInviteAttempts bounds invite code regeneration on collision.
	DefaultMaxInviteAttempts = 10
)

// Codes generates verification and invite codes.
type Codes interface {
	VerificationCode() (string, error)
	InviteCode() (string, error)
}

// Config holds the AccountService dependencies. Repo and Codes are required.
type Config struct {
	Repo   repository.Repository
	Codes  Codes
	Sender sms.Sender
	// Delay runs after a code is issued and before it is sent, outside any row lock.
	Delay   sms.Delay
	Events  telemetry.EventEmitter
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
	// CodeTTL defaults to DefaultCodeTTL.
	CodeTTL time.Duration
	// MaxInviteAttempts defaults to DefaultMaxInviteAttempts.
	MaxInviteAttempts int
	// Now defaults to time.Now().UTC().
	Now func() time.Time
}

// AccountService implements RequestVerification, SubmitVerificationCode, RedeemInviteCode,
// ListReferrals and GetProfile over an account repository.
type AccountService struct {
	repo        repository.Repository
	codes       Codes
	sender      sms.Sender
	delay       sms.Delay
	events      telemetry.EventEmitter
	metrics     *telemetry.Metrics
	log         *zap.Logger
	tracer      trace.Tracer
	codeTTL     time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewAccountService returns an AccountService. Optional dependencies fall back to no-ops.
func NewAccountService(cfg Config) *AccountService {
	s := &AccountService{
		repo:        cfg.Repo,
		codes:       cfg.Codes,
		sender:      cfg.Sender,
		delay:       cfg.Delay,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		tracer:      otel.Tracer(tracerName),
		codeTTL:     cfg.CodeTTL,
		maxAttempts: cfg.MaxInviteAttempts,
		now:         cfg.Now,
	}
	if s.delay == nil {
		s.delay = sms.NoDelay
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.codeTTL <= 0 {
		s.codeTTL = DefaultCodeTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxInviteAttempts
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Profile is the read view of an account.
type Profile struct {
	PhoneNumber        string
	Verified           bool
	InviteCode         string
	RedeemedInviteCode string
	Referrals          []string
}

// NormalizePhone trims whitespace and checks the phone number is 10 to 15 ASCII digits.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", invalid("phone_number", "is required")
	}
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return "", invalid("phone_number", "must be 10 to 15 digits")
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return "", invalid("phone_number", "must contain digits only")
		}
	}
	return phone, nil
}

// GetProfile returns the account view for phone with its referrals.
func (s *AccountService) GetProfile(ctx context.Context, phone string) (*Profile, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.GetProfile")
	defer span.End()

	a, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	referrals, err := s.referralsOf(ctx, a)
	if err != nil {
		return nil, err
	}
	return &Profile{
		PhoneNumber:        a.PhoneNumber,
		Verified:           a.Verified,
		InviteCode:         a.InviteCode,
		RedeemedInviteCode: a.RedeemedInviteCode,
		Referrals:          referrals,
	}, nil
}

func (s *AccountService) emit(ctx context.Context, ev *telemetry.Event) {
	telemetry.EmitAsync(s.events, ctx, ev, s.log)
}

func (s *AccountService) loadedAccount(ctx context.Context, phone string) (*domain.Account, error) {
	a, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}
