package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope for account metrics.
const MeterName = "referral-system/account"

// Metrics holds the account operation counters.
type Metrics struct {
	verificationRequests    metric.Int64Counter
	verificationSubmissions metric.Int64Counter
	inviteRedemptions       metric.Int64Counter
}

// NewMetrics registers the account counters on meter. A nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	requests, err := meter.Int64Counter("referral.verification.requests",
		metric.WithDescription("Verification code requests by outcome"))
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter("referral.verification.submissions",
		metric.WithDescription("Verification code submissions by result"))
	if err != nil {
		return nil, err
	}
	redemptions, err := meter.Int64Counter("referral.invite.redemptions",
		metric.WithDescription("Invite code redemptions by result"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		verificationRequests:    requests,
		verificationSubmissions: submissions,
		inviteRedemptions:       redemptions,
	}, nil
}

// VerificationRequested counts a RequestVerification call.
func (m *Metrics) VerificationRequested(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.verificationRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// VerificationSubmitted counts a SubmitVerificationCode call.
func (m *Metrics) VerificationSubmitted(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.verificationSubmissions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// InviteRedeemed counts a RedeemInviteCode call.
func (m *Metrics) InviteRedeemed(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.inviteRedemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
