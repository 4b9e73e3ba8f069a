package gis

import (
	"errors"
	"fmt"
)

// AuthError indicates the service rejected our credentials or token.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "gis: authentication failed: " + e.Message
}

// ConnectionError indicates the service could not be reached at all.
type ConnectionError struct {
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	return "gis: connection failed: " + e.Message
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ClientError is a structured error returned by the remote service itself.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("gis: service error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether a failed call is worth retrying: connection
// failures and server-side (5xx) errors are transient, authentication and
// other client errors are not.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Code >= 500
	}
	return false
}
