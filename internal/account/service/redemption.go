package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"referral-system/internal/account/domain"
	"referral-system/internal/account/repository"
	"referral-system/internal/codegen"
	"referral-system/internal/logger"
	"referral-system/internal/telemetry"
)

// RedeemInviteCode records that phone redeemed inviteCode. phone must be the authenticated identity.
// Checks run under the account row lock in this order: already redeemed, unknown code,
// own code, unverified account.
func (s *AccountService) RedeemInviteCode(ctx context.Context, phone, inviteCode string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.RedeemInviteCode")
	defer span.End()

	inviteCode = strings.TrimSpace(inviteCode)
	referrer, err := s.redeem(ctx, phone, inviteCode)
	result := resultLabel(err)
	s.metrics.InviteRedeemed(ctx, result)
	span.SetAttributes(attribute.String("result", result))
	if err != nil {
		if !isClientError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}

	s.log.Info("invite code redeemed", logger.Phone(phone), zap.String("invite_code", inviteCode))
	ev := telemetry.NewEvent(telemetry.EventInviteRedeemed, phone, s.now())
	ev.InviteCode = inviteCode
	s.emit(ctx, ev.With("referrer", logger.MaskPhone(referrer)))
	return inviteCode, nil
}

// redeem returns the referrer phone number on success.
func (s *AccountService) redeem(ctx context.Context, phone, inviteCode string) (string, error) {
	if inviteCode == "" {
		return "", invalid("invite_code", "is required")
	}
	var owner *domain.Account
	if codegen.IsInviteCode(inviteCode) {
		var err error
		owner, err = s.repo.GetByInviteCode(ctx, inviteCode)
		if err != nil {
			return "", err
		}
	}

	_, err := s.repo.Update(ctx, phone, func(a *domain.Account) error {
		if a.RedeemedInviteCode != "" {
			return ErrAlreadyRedeemed
		}
		if owner == nil {
			return ErrInvalidInviteCode
		}
		if owner.PhoneNumber == a.PhoneNumber || inviteCode == a.InviteCode {
			return ErrSelfRedemption
		}
		if !a.Verified {
			return ErrAccountNotVerified
		}
		a.RedeemedInviteCode = inviteCode
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return owner.PhoneNumber, nil
}

// ListReferrals returns the phone numbers of accounts that redeemed phone's invite code, sorted.
// The result is empty when the account has no invite code.
func (s *AccountService) ListReferrals(ctx context.Context, phone string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ListReferrals")
	defer span.End()

	a, err := s.loadedAccount(ctx, phone)
	if err != nil {
		return nil, err
	}
	return s.referralsOf(ctx, a)
}

func (s *AccountService) referralsOf(ctx context.Context, a *domain.Account) ([]string, error) {
	out := []string{}
	if a.InviteCode == "" {
		return out, nil
	}
	referred, err := s.repo.ListByRedeemedInviteCode(ctx, a.InviteCode)
	if err != nil {
		return nil, err
	}
	for _, r := range referred {
		out = append(out, r.PhoneNumber)
	}
	return out, nil
}

// resultLabel maps an operation error to a metric attribute value.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrInvalidInviteCode):
		return "invalid_code"
	case errors.Is(err, ErrSelfRedemption):
		return "self"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, ErrAccountNotVerified):
		return "not_verified"
	case errors.Is(err, ErrGenerationExhausted):
		return "exhausted"
	}
	return "error"
}

func isClientError(err error) bool {
	switch resultLabel(err) {
	case "error", "exhausted":
		return false
	}
	return true
}
