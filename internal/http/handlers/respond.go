package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/authportal/internal/auth"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if v, ok := ctx.Get("request_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details any) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details any) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

// authErrorStatus maps service sentinels to status, code and a message safe
// to show to the client.
func authErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_EMAIL_OR_PASSWORD", "Invalid email or password"
	case errors.Is(err, auth.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email not verified"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusUnprocessableEntity, "USER_ALREADY_EXISTS", "User already exists"
	case errors.Is(err, auth.ErrPasswordTooShort):
		return http.StatusBadRequest, "PASSWORD_TOO_SHORT", "Password too short"
	case errors.Is(err, auth.ErrPasswordTooLong):
		return http.StatusBadRequest, "PASSWORD_TOO_LONG", "Password too long"
	case errors.Is(err, auth.ErrProviderNotEnabled):
		return http.StatusNotFound, "PROVIDER_NOT_FOUND", "Provider not found"
	case errors.Is(err, auth.ErrInvalidState):
		return http.StatusBadRequest, "INVALID_STATE", "Invalid or expired OAuth state"
	case errors.Is(err, auth.ErrProviderEmailMissing):
		return http.StatusBadRequest, "EMAIL_NOT_FOUND", "Provider did not share an email address"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token"
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusUnauthorized, "SESSION_NOT_FOUND", "Session not found"
	case errors.Is(err, auth.ErrEmailPasswordDisabled):
		return http.StatusBadRequest, "EMAIL_PASSWORD_DISABLED", "Email and password sign-in is not enabled"
	case errors.Is(err, auth.ErrAccountNotLinked):
		return http.StatusUnauthorized, "ACCOUNT_NOT_LINKED", "Account not linked"
	case errors.Is(err, auth.ErrAlreadyVerified):
		return http.StatusBadRequest, "EMAIL_ALREADY_VERIFIED", "Email is already verified"
	default:
		return http.StatusInternalServerError, "internal_error", "Something went wrong"
	}
}

// RespondAuthError writes the envelope for an auth service error.
func RespondAuthError(ctx *gin.Context, err error) {
	status, code, message := authErrorStatus(err)
	RespondError(ctx, status, code, message, nil)
}
