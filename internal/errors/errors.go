package errors

import (
	"errors"
	"fmt"
)

// Common error types for the backoffice client
var (
	// Authentication errors
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrNoTokenInResponse     = errors.New("no token in response")
	ErrMissingRefreshContext = errors.New("missing refresh context")
	ErrRefreshRejected       = errors.New("refresh rejected")

	// Session errors
	ErrSessionEnded     = errors.New("session ended")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Storage errors
	ErrSlotNotFound   = errors.New("credential slot not found")
	ErrStoreOperation = errors.New("credential store operation failed")
	ErrSealedStore    = errors.New("credential store cannot be opened")

	// Resource errors
	ErrUnknownResource = errors.New("unknown resource")
	ErrNotConfirmed    = errors.New("operation not confirmed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
