package service

import "errors"

// Sentinel errors for the account service; the HTTP handler maps them to status and business codes.
var (
	ErrValidation          = errors.New("validation failed")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCodeMismatch        = errors.New("verification code does not match")
	ErrCodeExpired         = errors.New("verification code expired")
	ErrInvalidInviteCode   = errors.New("invalid invite code")
	ErrSelfRedemption      = errors.New("cannot redeem own invite code")
	ErrAlreadyRedeemed     = errors.New("invite code already redeemed")
	ErrAccountNotVerified  = errors.New("account is not verified")
	ErrGenerationExhausted = errors.New("invite code generation exhausted")
)

// ValidationError reports a malformed input field. errors.Is(err, ErrValidation) holds for it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Is lets callers match any ValidationError against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
