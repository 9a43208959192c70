package garmin

import (
	"errors"
	"fmt"
)

// The error kinds below map one-to-one onto the failure modes callers need
// to branch on. The SSO and OAuth layers never swallow an error; they raise
// the most specific kind available and the client propagates it unchanged,
// with the single exception of the one refresh-and-retry in ConnectAPI.

// AuthError means the remote service rejected the credentials, an expected
// page element (CSRF token, ticket anchor) was missing, or the response
// carried an unexpected title. Not retryable without new input.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// TokenExpiredError means the retained OAuth1 token was rejected. No amount
// of refreshing helps; a full re-login is required.
type TokenExpiredError struct {
	Reason string
}

func (e *TokenExpiredError) Error() string {
	return "token expired: " + e.Reason
}

// RateLimitError means the remote service returned 429. The core never
// retries these; callers should back off.
type RateLimitError struct {
	Endpoint string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s", e.Endpoint)
}

// NetworkError wraps a transport-level failure where no HTTP response was
// received. The credentials were never evaluated, so a retry with backoff
// is safe at the caller's discretion.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx, non-401 response from a data endpoint after
// authentication succeeded. Not auth-related.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Body)
}

var (
	// ErrGateTimeout is returned by Gate.Wait when no login completes
	// within the wait window.
	ErrGateTimeout = errors.New("login did not complete in time")

	// ErrNotAuthenticated is returned when a token is requested before
	// any login or resume succeeded.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoPendingMFA is returned by SubmitMFA when there is no suspended
	// login to resume.
	ErrNoPendingMFA = errors.New("no pending MFA login")

	// ErrNoStoredSession is returned by Resume when the token store holds
	// no saved pair.
	ErrNoStoredSession = errors.New("no stored session")
)
