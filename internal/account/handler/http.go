// Package handler exposes the account service over HTTP/JSON.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"referral-system/internal/account/service"
	"referral-system/internal/logger"
	"referral-system/internal/response"
	"referral-system/internal/revocation"
	"referral-system/internal/security"
	"referral-system/internal/server/middleware"
)

// AccountService is the subset of service.AccountService used by the handler.
type AccountService interface {
	RequestVerification(ctx context.Context, phone string) (*service.RequestResult, error)
	SubmitVerificationCode(ctx context.Context, phone, code string) (*service.VerifyResult, error)
	RedeemInviteCode(ctx context.Context, phone, inviteCode string) (string, error)
	ListReferrals(ctx context.Context, phone string) ([]string, error)
	GetProfile(ctx context.Context, phone string) (*service.Profile, error)
}

// TokenIssuer issues access tokens after a successful verification.
type TokenIssuer interface {
	IssueAccess(phone string) (security.AccessToken, error)
}

// Options configures the handler.
type Options struct {
	// ReturnCode includes the verification code in the RequestVerification response (dev only).
	ReturnCode bool
	// CodeTTL is reported to clients as expires_in.
	CodeTTL time.Duration
}

// Handler serves the auth and profile endpoints.
type Handler struct {
	svc     AccountService
	tokens  TokenIssuer
	revoked revocation.Store
	opts    Options
	log     *zap.Logger
}

// NewHandler returns an account HTTP handler. revoked may be nil, in which case logout only acknowledges.
func NewHandler(svc AccountService, tokens TokenIssuer, revoked revocation.Store, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, tokens: tokens, revoked: revoked, opts: opts, log: log}
}

// RegisterPublic mounts the unauthenticated routes on rg.
func (h *Handler) RegisterPublic(rg *gin.RouterGroup) {
	rg.POST("/auth/phone", h.RequestVerification)
	rg.POST("/auth/verify", h.SubmitVerificationCode)
}

// RegisterProtected mounts the routes that require the auth middleware on rg.
func (h *Handler) RegisterProtected(rg *gin.RouterGroup) {
	rg.POST("/auth/logout", h.Logout)
	rg.GET("/profile", h.GetProfile)
	rg.GET("/profile/referrals", h.ListReferrals)
	rg.POST("/profile/invite-code", h.RedeemInviteCode)
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type verifyRequest struct {
	PhoneNumber      string `json:"phone_number"`
	VerificationCode string `json:"verification_code"`
}

type redeemRequest struct {
	InviteCode string `json:"invite_code"`
}

type requestVerificationResponse struct {
	PhoneNumber      string `json:"phone_number"`
	Status           string `json:"status"`
	VerificationCode string `json:"verification_code,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
}

type verifyResponse struct {
	PhoneNumber string    `json:"phone_number"`
	InviteCode  string    `json:"invite_code"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type profileResponse struct {
	PhoneNumber        string   `json:"phone_number"`
	Verified           bool     `json:"verified"`
	InviteCode         string   `json:"invite_code"`
	RedeemedInviteCode string   `json:"redeemed_invite_code"`
	Referrals          []string `json:"referrals"`
}

type referralsResponse struct {
	Referrals []string `json:"referrals"`
	Count     int      `json:"count"`
}

type redeemResponse struct {
	RedeemedInviteCode string `json:"redeemed_invite_code"`
}

// RequestVerification handles POST /auth/phone.
func (h *Handler) RequestVerification(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	res, err := h.svc.RequestVerification(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}

	data := requestVerificationResponse{
		PhoneNumber: res.Account.PhoneNumber,
		Status:      string(res.Account.Status()),
	}
	if res.Outcome == service.OutcomeAlreadyVerified {
		response.OKMessage(c, "phone number already verified", data)
		return
	}
	data.ExpiresIn = int64(h.opts.CodeTTL / time.Second)
	if h.opts.ReturnCode {
		data.VerificationCode = res.Code
	}
	if res.Outcome == service.OutcomeCreated {
		response.Created(c, "verification code sent", data)
		return
	}
	response.OKMessage(c, "verification code resent", data)
}

// SubmitVerificationCode handles POST /auth/verify and issues an access token on success.
func (h *Handler) SubmitVerificationCode(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	res, err := h.svc.SubmitVerificationCode(c.Request.Context(), req.PhoneNumber, req.VerificationCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	tok, err := h.tokens.IssueAccess(res.Account.PhoneNumber)
	if err != nil {
		h.log.Error("issue access token", logger.Phone(res.Account.PhoneNumber), zap.Error(err))
		response.InternalError(c)
		return
	}
	response.OKMessage(c, "phone number verified", verifyResponse{
		PhoneNumber: res.Account.PhoneNumber,
		InviteCode:  res.InviteCode,
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt,
	})
}

// Logout handles POST /auth/logout by revoking the current access token until it expires.
func (h *Handler) Logout(c *gin.Context) {
	jti, expiresAt, ok := middleware.GetTokenID(c.Request.Context())
	if !ok {
		response.Unauthorized(c, "missing or invalid authorization")
		return
	}
	if h.revoked != nil {
		if err := h.revoked.Revoke(c.Request.Context(), jti, time.Until(expiresAt)); err != nil {
			h.log.Error("revoke access token", zap.Error(err))
			response.InternalError(c)
			return
		}
	}
	response.OKMessage(c, "logged out", nil)
}

// GetProfile handles GET /profile.
func (h *Handler) GetProfile(c *gin.Context) {
	phone, ok := middleware.Phone(c)
	if !ok {
		response.Unauthorized(c, "missing or invalid authorization")
		return
	}
	p, err := h.svc.GetProfile(c.Request.Context(), phone)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, profileResponse{
		PhoneNumber:        p.PhoneNumber,
		Verified:           p.Verified,
		InviteCode:         p.InviteCode,
		RedeemedInviteCode: p.RedeemedInviteCode,
		Referrals:          p.Referrals,
	})
}

// ListReferrals handles GET /profile/referrals.
func (h *Handler) ListReferrals(c *gin.Context) {
	phone, ok := middleware.Phone(c)
	if !ok {
		response.Unauthorized(c, "missing or invalid authorization")
		return
	}
	refs, err := h.svc.ListReferrals(c.Request.Context(), phone)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, referralsResponse{Referrals: refs, Count: len(refs)})
}

// RedeemInviteCode handles POST /profile/invite-code. The acting account is the token subject only.
func (h *Handler) RedeemInviteCode(c *gin.Context) {
	phone, ok := middleware.Phone(c)
	if !ok {
		response.Unauthorized(c, "missing or invalid authorization")
		return
	}
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	code, err := h.svc.RedeemInviteCode(c.Request.Context(), phone, req.InviteCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OKMessage(c, "invite code redeemed", redeemResponse{RedeemedInviteCode: code})
}

// writeError maps service errors to HTTP status and business codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, ve.Error())
	case errors.Is(err, service.ErrAccountNotFound):
		response.Error(c, http.StatusNotFound, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrCodeMismatch):
		response.Error(c, http.StatusBadRequest, response.CodeCodeMismatch, err.Error())
	case errors.Is(err, service.ErrCodeExpired):
		response.Error(c, http.StatusBadRequest, response.CodeCodeExpired, err.Error())
	case errors.Is(err, service.ErrInvalidInviteCode):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidInviteCode, err.Error())
	case errors.Is(err, service.ErrSelfRedemption):
		response.Error(c, http.StatusBadRequest, response.CodeSelfRedemption, err.Error())
	case errors.Is(err, service.ErrAlreadyRedeemed):
		response.Error(c, http.StatusConflict, response.CodeAlreadyRedeemed, err.Error())
	case errors.Is(err, service.ErrAccountNotVerified):
		response.Error(c, http.StatusForbidden, response.CodeAccountNotVerified, err.Error())
	case errors.Is(err, service.ErrGenerationExhausted):
		h.log.Error("invite code generation exhausted", zap.String("path", c.FullPath()))
		response.Error(c, http.StatusInternalServerError, response.CodeGenerationExhausted, "could not assign an invite code, try again")
	default:
		_ = c.Error(err)
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalError(c)
	}
}
