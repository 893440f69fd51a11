package auth

import (
	"fmt"

	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
)

type ErrorKind string

const (
	InvalidCredentials    ErrorKind = "invalid_credentials"
	NoTokenInResponse     ErrorKind = "no_token_in_response"
	MissingRefreshContext ErrorKind = "missing_refresh_context"
	RefreshRejected       ErrorKind = "refresh_rejected"
)

var kindSentinels = map[ErrorKind]error{
	InvalidCredentials:    apperrors.ErrInvalidCredentials,
	NoTokenInResponse:     apperrors.ErrNoTokenInResponse,
	MissingRefreshContext: apperrors.ErrMissingRefreshContext,
	RefreshRejected:       apperrors.ErrRefreshRejected,
}

// AuthError is returned by Login and RefreshAccessToken. Status is the HTTP
// status from the backend, or zero when no response was involved. Detail is
// the backend's message where there was one.
type AuthError struct {
	Kind   ErrorKind
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return e.Unwrap().Error()
	}
	return fmt.Sprintf("%s: %s", e.Unwrap(), e.Detail)
}

// Unwrap lets errors.Is match the sentinels in internal/errors.
func (e *AuthError) Unwrap() error {
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return sentinel
	}
	return fmt.Errorf("auth error %q", e.Kind)
}
