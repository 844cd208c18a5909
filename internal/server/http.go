// Package server wires the HTTP API router and the ops gRPC server.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	accounthandler "referral-system/internal/account/handler"
	devotphandler "referral-system/internal/devotp/handler"
	"referral-system/internal/response"
	"referral-system/internal/revocation"
	"referral-system/internal/server/middleware"
)

// APIPrefix is the base path of every HTTP route.
const APIPrefix = "/api/v1"

// HTTPDeps holds the handlers and auth collaborators for the HTTP router.
type HTTPDeps struct {
	Accounts *accounthandler.Handler
	Tokens   middleware.TokenValidator
	Revoked  revocation.Store
	// DevOTP is the dev-only outbox handler. If nil, the dev routes are not registered.
	DevOTP *devotphandler.Handler
	Logger *zap.Logger
}

// NewRouter returns the gin engine serving the /api/v1 routes.
func NewRouter(deps HTTPDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Tracing(), middleware.Logger(log))
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, response.CodeNotFound, "route not found")
	})

	api := r.Group(APIPrefix)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, response.Response{Code: response.CodeOK, Message: "ok"})
	})
	if deps.Accounts != nil {
		deps.Accounts.RegisterPublic(api)
		deps.Accounts.RegisterProtected(api.Group("", middleware.Auth(deps.Tokens, deps.Revoked, log)))
	}
	if deps.DevOTP != nil {
		deps.DevOTP.Register(api.Group("/dev"))
	}
	return r
}
