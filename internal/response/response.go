// Package response writes the JSON envelope {"code","message","data"} used by every HTTP endpoint.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Business codes. 0 is success; the rest are stable so clients can tell failures apart.
const (
	CodeOK                  = 0
	CodeValidation          = 10001
	CodeUnauthenticated     = 11001
	CodeAccountNotFound     = 20001
	CodeCodeMismatch        = 20002
	CodeCodeExpired         = 20003
	CodeInvalidInviteCode   = 30001
	CodeSelfRedemption      = 30002
	CodeAlreadyRedeemed     = 30003
	CodeAccountNotVerified  = 30004
	CodeNotFound            = 40401
	CodeInternal            = 50000
	CodeGenerationExhausted = 50001
	CodeUnavailable         = 50301
)

// Response is the envelope for all API responses.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// OK writes 200 with data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "success", Data: data})
}

// OKMessage writes 200 with a custom message.
func OKMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: message, Data: data})
}

// Created writes 201 with a custom message.
func Created(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, Response{Code: CodeOK, Message: message, Data: data})
}

// Error writes an error envelope with the given HTTP status and business code.
func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{Code: code, Message: message})
}

// AbortError writes an error envelope and stops the handler chain.
func AbortError(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, Response{Code: code, Message: message})
}

// BadRequest writes 400 with a validation code.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeValidation, message)
}

// Unauthorized aborts with 401.
func Unauthorized(c *gin.Context, message string) {
	AbortError(c, http.StatusUnauthorized, CodeUnauthenticated, message)
}

// NotFound writes 404.
func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

// InternalError writes 500 without leaking the cause.
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeInternal, "internal server error")
}
