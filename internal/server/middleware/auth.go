package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"referral-system/internal/response"
	"referral-system/internal/revocation"
	"referral-system/internal/security"
)

const bearerPrefix = "bearer "

// TokenValidator validates an access token.
type TokenValidator interface {
	ValidateAccess(token string) (*security.Identity, error)
}

// Auth validates the Bearer access token, rejects revoked tokens and stores the identity on the request context.
// revoked may be nil.
func Auth(tokens TokenValidator, revoked revocation.Store, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, "missing or invalid authorization")
			return
		}
		id, err := tokens.ValidateAccess(token)
		if err != nil {
			response.Unauthorized(c, "missing or invalid authorization")
			return
		}
		if revoked != nil {
			isRevoked, err := revoked.IsRevoked(c.Request.Context(), id.JTI)
			if err != nil {
				log.Error("token revocation check failed", zap.Error(err))
				response.AbortError(c, http.StatusServiceUnavailable, response.CodeUnavailable, "authorization temporarily unavailable")
				return
			}
			if isRevoked {
				response.Unauthorized(c, "token has been revoked")
				return
			}
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id.PhoneNumber, id.JTI, id.ExpiresAt))
		c.Next()
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// Phone returns the authenticated phone number for the request.
func Phone(c *gin.Context) (string, bool) {
	return GetPhone(c.Request.Context())
}
