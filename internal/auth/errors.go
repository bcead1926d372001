package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authentication failures.
type ErrorKind int

const (
	Invalid ErrorKind = iota + 1
	DuplicateAccount
	ValidationFailed
	NetworkFailure
)

func (k ErrorKind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case DuplicateAccount:
		return "duplicate_account"
	case ValidationFailed:
		return "validation_failed"
	case NetworkFailure:
		return "network_failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is an authentication failure carrying a user-displayable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &auth.Error{Kind: auth.Invalid}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrInFlight rejects a submission while another one is pending.
	ErrInFlight = errors.New("authentication already in progress")
	// ErrSuperseded is returned for a request whose result arrived after
	// logout, cancellation or a newer identity made it stale.
	ErrSuperseded = errors.New("authentication result discarded")
	// ErrAlreadyAuthenticated rejects login/register while an identity is held.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrRemoteLogout wraps a failure to invalidate the token on the server
	// after the local identity was already dropped.
	ErrRemoteLogout = errors.New("remote session invalidation failed")
)

func defaultMessage(kind ErrorKind) string {
	switch kind {
	case Invalid:
		return "Invalid email or password."
	case DuplicateAccount:
		return "An account with this email already exists."
	case ValidationFailed:
		return "Please check the highlighted fields."
	default:
		return "Unable to reach the server. Please try again."
	}
}

func newError(kind ErrorKind, message string, err error) *Error {
	if message == "" {
		message = defaultMessage(kind)
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// classify turns any backend failure into an *Error. Anything that is not
// already an *Error (dial failures, timeouts, cancelled contexts) counts as
// a network failure.
func classify(err error) *Error {
	var authErr *Error
	if errors.As(err, &authErr) {
		if authErr.Message == "" {
			authErr.Message = defaultMessage(authErr.Kind)
		}
		return authErr
	}
	return newError(NetworkFailure, "", err)
}
