package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"referral-system/internal/account/domain"
	"referral-system/internal/account/repository"
	"referral-system/internal/codegen"
	"referral-system/internal/logger"
	"referral-system/internal/telemetry"
)

// Outcome describes what RequestVerification did.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeResent          Outcome = "resent"
	OutcomeAlreadyVerified Outcome = "already_verified"
)

// RequestResult is the result of RequestVerification. Code is empty when the account is already verified.
type RequestResult struct {
	Outcome Outcome
	Code    string
	Account *domain.Account
}

// VerifyResult is the result of a successful SubmitVerificationCode.
type VerifyResult struct {
	InviteCode string
	Account    *domain.Account
}

// errVerified aborts the write when a concurrent request verified the account first.
var errVerified = errors.New("account already verified")

// RequestVerification creates a pending account for phone or reissues its code, then dispatches the code.
// A verified account is returned unchanged.
func (s *AccountService) RequestVerification(ctx context.Context, phone string) (*RequestResult, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.RequestVerification")
	defer span.End()

	phone, err := NormalizePhone(phone)
	if err != nil {
		s.metrics.VerificationRequested(ctx, "invalid")
		return nil, err
	}
	code, err := s.codes.VerificationCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	res, err := s.issueCode(ctx, phone, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	s.metrics.VerificationRequested(ctx, string(res.Outcome))
	if res.Outcome == OutcomeAlreadyVerified {
		return res, nil
	}

	evType := telemetry.EventAccountCreated
	if res.Outcome == OutcomeResent {
		evType = telemetry.EventCodeResent
	}
	s.emit(ctx, telemetry.NewEvent(evType, phone, s.now()))

	if err := s.delay(ctx); err != nil {
		return nil, fmt.Errorf("dispatch verification code: %w", err)
	}
	if s.sender != nil {
		if err := s.sender.Send(ctx, phone, code); err != nil {
			s.log.Warn("verification code dispatch failed", logger.Phone(phone), zap.Error(err))
			return nil, fmt.Errorf("dispatch verification code: %w", err)
		}
	}
	return res, nil
}

// issueCode runs the create-or-resend transition. A lost create race falls through to the update branch.
func (s *AccountService) issueCode(ctx context.Context, phone, code string) (*RequestResult, error) {
	existing, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		a := &domain.Account{PhoneNumber: phone}
		a.IssueCode(code, s.now())
		err := s.repo.Create(ctx, a)
		if err == nil {
			s.log.Info("account created", logger.Phone(phone))
			return &RequestResult{Outcome: OutcomeCreated, Code: code, Account: a}, nil
		}
		if !errors.Is(err, repository.ErrAccountExists) {
			return nil, err
		}
	} else if existing.Verified {
		return &RequestResult{Outcome: OutcomeAlreadyVerified, Account: existing}, nil
	}

	updated, err := s.repo.Update(ctx, phone, func(a *domain.Account) error {
		if a.Verified {
			return errVerified
		}
		a.IssueCode(code, s.now())
		return nil
	})
	switch {
	case errors.Is(err, errVerified):
		current, err := s.loadedAccount(ctx, phone)
		if err != nil {
			return nil, err
		}
		return &RequestResult{Outcome: OutcomeAlreadyVerified, Account: current}, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrAccountNotFound
	case err != nil:
		return nil, err
	}
	return &RequestResult{Outcome: OutcomeResent, Code: code, Account: updated}, nil
}

// SubmitVerificationCode checks code against the pending code for phone. On a match the account is
// verified, its code is cleared and an invite code is assigned if it has none.
// An expired code is cleared and ErrCodeExpired returned even when the value matches.
func (s *AccountService) SubmitVerificationCode(ctx context.Context, phone, code string) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.SubmitVerificationCode")
	defer span.End()

	res, err := s.submitCode(ctx, phone, code)
	s.metrics.VerificationSubmitted(ctx, resultLabel(err))
	if err != nil {
		span.SetAttributes(attribute.String("result", resultLabel(err)))
		if !isClientError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	s.log.Info("account verified", logger.Phone(res.Account.PhoneNumber))
	ev := telemetry.NewEvent(telemetry.EventAccountVerified, res.Account.PhoneNumber, s.now())
	ev.InviteCode = res.InviteCode
	s.emit(ctx, ev)
	return res, nil
}

func (s *AccountService) submitCode(ctx context.Context, phone, code string) (*VerifyResult, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if !codegen.IsVerificationCode(code) {
		return nil, invalid("verification_code", "must be 4 digits")
	}
	current, err := s.loadedAccount(ctx, phone)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		candidate := ""
		if current.InviteCode == "" {
			candidate, err = s.inviteCandidate(ctx)
			if err != nil {
				return nil, err
			}
			if candidate == "" {
				continue
			}
		}

		var expired bool
		updated, err := s.repo.Update(ctx, phone, func(a *domain.Account) error {
			if !a.HasPendingCode() {
				return ErrCodeMismatch
			}
			if a.CodeExpired(s.now(), s.codeTTL) {
				a.ClearCode()
				expired = true
				return nil
			}
			if !codegen.CodesEqual(code, a.VerificationCode) {
				return ErrCodeMismatch
			}
			if a.InviteCode == "" {
				a.InviteCode = candidate
			}
			a.Verified = true
			a.ClearCode()
			return nil
		})
		switch {
		case errors.Is(err, repository.ErrInviteCodeTaken):
			s.log.Debug("invite code collision on write", zap.Int("attempt", attempt))
			continue
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrAccountNotFound
		case err != nil:
			return nil, err
		case expired:
			return nil, ErrCodeExpired
		}
		return &VerifyResult{InviteCode: updated.InviteCode, Account: updated}, nil
	}

	s.log.Error("invite code generation exhausted",
		logger.Phone(phone), zap.Int("max_attempts", s.maxAttempts))
	return nil, ErrGenerationExhausted
}

// inviteCandidate returns a fresh invite code not currently owned by any account, or "" on collision.
func (s *AccountService) inviteCandidate(ctx context.Context) (string, error) {
	candidate, err := s.codes.InviteCode()
	if err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	owner, err := s.repo.GetByInviteCode(ctx, candidate)
	if err != nil {
		return "", err
	}
	if owner != nil {
		return "", nil
	}
	return candidate, nil
}
