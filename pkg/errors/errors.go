package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken       = 1001
	ErrAuctionNotFound    = 1002
	ErrBidTooLow          = 1003
	ErrAuctionNotBiddable = 1004
	ErrWebSocketUpgrade   = 1005
	ErrBadMessageFormat   = 1006
	ErrUnknownMessageType = 1007
	ErrConflict           = 1008
	ErrInvalidTransition  = 1009
	ErrCancelRefused      = 1010
	ErrOrderNotFound      = 1011
	ErrNotSeller          = 1012

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the error as a client-facing websocket frame.
func (e *AppError) ToJSON() string {
	payload, err := json.Marshal(map[string]any{
		"type":    "error",
		"code":    e.Code,
		"message": e.Message,
	})
	if err != nil {
		return `{"type": "error", "message": "internal server error"}`
	}
	return string(payload)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Code extracts the application error code, or ErrInternalServer when err is
// not an AppError.
func Code(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServer
}

// Is reports whether err carries the given application error code.
func Is(err error, code int) bool {
	return Code(err) == code
}
