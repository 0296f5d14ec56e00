package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrClipNotFound       = NewErr("CLIP_NOT_FOUND", "Clip not found or expired", http.StatusNotFound)
	ErrContentRequired    = NewErr("CONTENT_REQUIRED", "Content is required", http.StatusBadRequest)
	ErrContentTooLarge    = NewErr("CONTENT_TOO_LARGE", "Content size exceeds maximum limit of 1MB", http.StatusBadRequest)
	ErrInvalidExpiration  = NewErr("INVALID_EXPIRATION", "Invalid expiration", http.StatusBadRequest)
	ErrRateLimited        = NewErr("RATE_LIMITED", "Rate limit exceeded. Please try again later.", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrUserNotFound       = NewErr("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	ErrUsernameTaken      = NewErr("USERNAME_TAKEN", "Username already exists", http.StatusBadRequest)
	ErrUsernameTooShort   = NewErr("USERNAME_TOO_SHORT", "Username must be at least 3 characters long", http.StatusBadRequest)
	ErrPasswordTooShort   = NewErr("PASSWORD_TOO_SHORT", "Password must be at least 8 characters long", http.StatusBadRequest)
	ErrInvalidCredentials = NewErr("INVALID_CREDENTIALS", "Invalid credentials", http.StatusUnauthorized)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// Message unwraps a wrapped domain error to its client-facing message.
// Unknown errors collapse to the internal-error message so details never
// leak past the boundary.
func Message(err error) string {
	if e, ok := err.(*Err); ok {
		return e.Msg
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Msg
	}
	return ErrInternalServer.Msg
}

func Status(err error) int {
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
