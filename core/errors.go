package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("credentials rejected")
	ErrTransient          = errors.New("backend unavailable")
	ErrMalformedResponse  = errors.New("malformed token response")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrSuperseded         = errors.New("operation superseded")
	ErrSessionClosed      = errors.New("session is closed")
	ErrSessionStarted     = errors.New("session already started")
	ErrSessionNotStarted  = errors.New("session not started")
	ErrNotAuthenticated   = errors.New("no token to refresh")
)

// ClientError is a non-2xx answer from the authorization server.
// A 401 unwraps to ErrUnauthorized, anything else to ErrTransient.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("auth server responded %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("auth server responded %d: %s", e.Status, e.Body)
}

func (e *ClientError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return ErrTransient
}

// TransportError wraps a failure to reach the authorization server.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// IsUnauthorized reports whether err means the held credential is dead.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err is worth retrying with the same credential.
func IsTransient(err error) bool {
	if err == nil || IsUnauthorized(err) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrInvalidToken)
}
