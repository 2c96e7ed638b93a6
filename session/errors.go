package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOperation is the parent of every programmer-error sentinel.
// Errors wrapping it are never retried.
var ErrInvalidOperation = errors.New("session: invalid operation")

var (
	// ErrOffline is returned when the network monitor reports no connectivity.
	// The whole operation may be retried later by the caller.
	ErrOffline = errors.New("session: the internet connection appears to be offline")

	// ErrCancelled is returned when a login attempt is cancelled by CloseSession
	// or when the user dismisses an account chooser.
	ErrCancelled = errors.New("session: operation cancelled")

	// ErrNoAccounts is recorded when a strategy yields no accounts.
	ErrNoAccounts = errors.New("session: no accounts found for this provider")

	// ErrUnsupported is returned by providers for capabilities they lack.
	ErrUnsupported = errors.New("session: operation not supported by provider")

	// ErrAmbiguousAccounts is returned when a strategy yields several accounts
	// and Options carries no Chooser.
	ErrAmbiguousAccounts = fmt.Errorf("%w: more than one account but no chooser was specified", ErrInvalidOperation)

	// ErrNotLoggedIn is returned by ActiveSession when there is no session.
	ErrNotLoggedIn = fmt.Errorf("%w: you are not logged in", ErrInvalidOperation)

	// ErrWrongGoroutine is the panic value raised when owner-confined state is
	// touched from outside the manager's owner goroutine.
	ErrWrongGoroutine = fmt.Errorf("%w: session state accessed off the owner goroutine", ErrInvalidOperation)

	// ErrManagerClosed is returned by Manager methods after Shutdown.
	ErrManagerClosed = errors.New("session: manager is shut down")
)

// Kind classifies failures of authenticated API calls.
type Kind int

const (
	// KindUnrelated covers errors that are not API errors at all
	// (cancellation, network I/O, local bugs).
	KindUnrelated Kind = iota
	// KindUnauthorized means the credential was rejected.
	KindUnauthorized
	// KindForbidden means the credential is valid but lacks permission.
	KindForbidden
	// KindInvalidResponse means the server answered with something unparseable.
	KindInvalidResponse
	// KindOther is any other protocol-level failure.
	KindOther
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindInvalidResponse:
		return "InvalidResponse"
	case KindOther:
		return "Other"
	default:
		return "Unrelated"
	}
}

// APIError is returned by authenticated calls that reached the service.
type APIError struct {
	// Kind drives the recovery policy of WithSession.
	Kind Kind

	// StatusCode is the transport status code, if any.
	StatusCode int

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var parts []string
	parts = append(parts, "api error", e.Kind.String())
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates an APIError of the given kind.
func NewAPIError(kind Kind, status int, message string, cause error) *APIError {
	return &APIError{Kind: kind, StatusCode: status, Message: message, Err: cause}
}

// Classify returns the API error kind carried by err.
// Cancellation always classifies as KindUnrelated, even when wrapped in an APIError.
func Classify(err error) Kind {
	if err == nil || IsCancellation(err) {
		return KindUnrelated
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnrelated
}

// IsCancellation reports whether err represents cooperative cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// LoginError is returned when every strategy of the fallback chain failed.
// Causes are ordered like the chain.
type LoginError struct {
	Causes []error
}

// Error implements the error interface.
func (e *LoginError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	return fmt.Sprintf("session: could not obtain session via any provider (%d failed): %s",
		len(e.Causes), strings.Join(msgs, "; "))
}

// Unwrap exposes the causes to errors.Is and errors.As.
func (e *LoginError) Unwrap() []error {
	return e.Causes
}
