package middleware

import (
	"context"
	"time"
)

type contextKey struct{ name string }

var (
	phoneKey     = contextKey{"phone_number"}
	tokenIDKey   = contextKey{"token_id"}
	tokenExpKey  = contextKey{"token_expires_at"}
	requestIDKey = contextKey{"request_id"}
)

// WithIdentity returns a context carrying the authenticated phone number and the access token's jti and expiry.
func WithIdentity(ctx context.Context, phone, jti string, expiresAt time.Time) context.Context {
	ctx = context.WithValue(ctx, phoneKey, phone)
	ctx = context.WithValue(ctx, tokenIDKey, jti)
	ctx = context.WithValue(ctx, tokenExpKey, expiresAt)
	return ctx
}

// GetPhone returns the authenticated phone number and true if set; otherwise "", false.
func GetPhone(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(phoneKey).(string)
	return v, ok && v != ""
}

// GetTokenID returns the jti and expiry of the access token used for the request.
func GetTokenID(ctx context.Context) (jti string, expiresAt time.Time, ok bool) {
	jti, ok = ctx.Value(tokenIDKey).(string)
	if !ok || jti == "" {
		return "", time.Time{}, false
	}
	expiresAt, _ = ctx.Value(tokenExpKey).(time.Time)
	return jti, expiresAt, true
}

// GetRequestID returns the request ID set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
