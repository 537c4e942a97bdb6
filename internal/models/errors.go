package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrInvalidDateTime   = errors.New("invalid date or time")
	ErrNotConnected      = errors.New("linkedin account is not connected")
	ErrCredentialExpired = errors.New("linkedin authorization expired")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrValidation        = errors.New("validation failed")
)

// PublishError is a rejected or failed call to the platform publish API.
// StatusCode is 0 when no HTTP response was received.
type PublishError struct {
	StatusCode int
	Message    string
}

func (e *PublishError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("failed to post to LinkedIn: %s", e.Message)
	}
	return fmt.Sprintf("failed to post to LinkedIn. Status: %d - %s", e.StatusCode, e.Message)
}

// FailureReason maps a publish error to a short label for metrics and logs.
func FailureReason(err error) string {
	var pe *PublishError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.As(err, &pe):
		if pe.StatusCode == 0 {
			return "transport"
		}
		return "rejected"
	default:
		return "internal"
	}
}
