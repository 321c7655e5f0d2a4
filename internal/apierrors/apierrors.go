// Package apierrors provides structured error types for the dashboard.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("resource not found")
	ErrClosed       = errors.New("connection closed")
	ErrInvalidInput = errors.New("invalid input")
)

// AuthorizationError rejects a subscription to a scope the caller cannot
// access. It is fatal to the subscribe attempt; no rooms are joined.
type AuthorizationError struct {
	Subject   string
	Namespace string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("subject %q is not authorized for namespace %q", e.Subject, e.Namespace)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// TimeoutError reports a subscribe or unsubscribe request that was not
// acknowledged within the protocol deadline. The caller may retry.
type TimeoutError struct {
	Method  string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request not acknowledged within %s", e.Method, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// SubscriptionError carries an explicit rejection from the server,
// distinct from a local timeout.
type SubscriptionError struct {
	Code    string
	Message string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription rejected (%s): %s", e.Code, e.Message)
}

// IsTimeout returns true if the error is a protocol deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnauthorized returns true if the error is an authorization rejection.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
