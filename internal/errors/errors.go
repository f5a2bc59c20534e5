package errors

import (
	"errors"
	"fmt"
)

// Domain errors for the Salesforce proxy. Provider failures are normalised
// into one of these at the connector boundary.
var (
	// Startup errors
	ErrConfiguration = errors.New("configuration error")

	// OAuth lifecycle errors
	ErrAuthExchange     = errors.New("authorization code exchange failed")
	ErrSessionExpired   = errors.New("salesforce session expired")
	ErrRefresh          = errors.New("access token refresh failed")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Query errors
	ErrQuery    = errors.New("invalid query")
	ErrNotFound = errors.New("not found")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")

	// Session store errors
	ErrSessionNotFound = errors.New("session not found")

	// Anything the provider returned that does not fit the taxonomy
	ErrUpstream = errors.New("salesforce request failed")
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

// New is errors.New, re-exported so callers need only this package
func New(text string) error {
	return errors.New(text)
}
