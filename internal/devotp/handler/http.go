// Package handler serves the dev-only verification code outbox over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"referral-system/internal/devotp"
	"referral-system/internal/response"
)

const devOTPNote = "DEV MODE ONLY"

// Handler reads stub-delivered codes. Only registered when dev OTP is enabled and not production.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a dev outbox handler that reads from the given store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

type codeResponse struct {
	PhoneNumber      string    `json:"phone_number"`
	VerificationCode string    `json:"verification_code"`
	SentAt           time.Time `json:"sent_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	Note             string    `json:"note"`
}

// Register mounts GET /verification-codes/:phone_number on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/verification-codes/:phone_number", h.GetCode)
}

// GetCode returns the latest code sent to the phone number. 404 if missing or expired.
func (h *Handler) GetCode(c *gin.Context) {
	phone := c.Param("phone_number")
	if phone == "" {
		response.BadRequest(c, "phone_number is required")
		return
	}
	msg, ok := h.store.Get(c.Request.Context(), phone)
	if !ok {
		response.NotFound(c, response.CodeNotFound, "verification code not found or expired")
		return
	}
	c.JSON(http.StatusOK, response.Response{
		Code:    response.CodeOK,
		Message: "success",
		Data: codeResponse{
			PhoneNumber:      msg.PhoneNumber,
			VerificationCode: msg.Code,
			SentAt:           msg.SentAt,
			ExpiresAt:        msg.ExpiresAt,
			Note:             devOTPNote,
		},
	})
}
