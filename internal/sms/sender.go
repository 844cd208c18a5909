// Package sms delivers verification codes. Real delivery is not implemented; the outbox
// sender records codes in the dev outbox so they can be read back in development.
package sms

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"referral-system/internal/devotp"
	"referral-system/internal/logger"
)

// Sender delivers a verification code to a phone number. Implementations must not log the code.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// OutboxSender logs a masked delivery line and stores the code in the dev outbox until ttl elapses.
type OutboxSender struct {
	outbox devotp.Store
	ttl    time.Duration
	log    *zap.Logger
	nowF   func() time.Time
}

// NewOutboxSender returns a Sender backed by outbox. outbox may be nil (log only).
func NewOutboxSender(outbox devotp.Store, ttl time.Duration, log *zap.Logger) *OutboxSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxSender{
		outbox: outbox,
		ttl:    ttl,
		log:    log,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// Send records the delivery. It fails only when ctx is already done.
func (s *OutboxSender) Send(ctx context.Context, phone, code string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	if s.outbox != nil {
		s.outbox.Put(ctx, phone, code, s.nowF().Add(s.ttl))
	}
	s.log.Info("sms: verification code dispatched", logger.Phone(phone), zap.String("channel", "stub"))
	return nil
}

// Delay simulates the latency of a real SMS gateway. It returns early with ctx.Err() if ctx is done.
type Delay func(ctx context.Context) error

// NoDelay returns immediately.
func NoDelay(context.Context) error { return nil }

// RandomDelay waits a uniformly random duration in [min, max].
func RandomDelay(min, max time.Duration) Delay {
	if max < min {
		max = min
	}
	return func(ctx context.Context) error {
		d := min
		if span := max - min; span > 0 {
			d += time.Duration(rand.Int64N(int64(span) + 1))
		}
		if d <= 0 {
			return ctx.Err()
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}
