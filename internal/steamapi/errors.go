package steamapi

import (
	"errors"
	"fmt"
)

// TransportError covers non-200 HTTP responses and connection failures.
// These are always retryable by the caller; nothing inside this package
// retries them automatically except the confirmation engine's single
// refresh-retry.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("steam transport: %v", e.Err)
	}
	return fmt.Sprintf("steam transport: http %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is Steam rejecting the operation at the application level: a
// non-1 x-eresult header on an otherwise successful HTTP response, or a
// response missing fields the operation cannot proceed without. Fatal to the
// current operation, not retried.
type ProtocolError struct {
	EResult int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("steam eresult %d: %s", e.EResult, e.Message)
	}
	return fmt.Sprintf("steam eresult %d", e.EResult)
}

// Distinct, user-actionable auth failures. The UI layer maps these to
// concrete guidance (re-enter code, use import instead, log in again) and
// must be able to tell them apart, so they are never collapsed into a
// generic error.
var (
	ErrAlreadyEnrolled        = errors.New("account already has an authenticator")
	ErrNeedsPhone             = errors.New("account needs a phone number before enrolling")
	ErrNeedsEmailConfirmation = errors.New("confirm the email Steam sent before enrolling")
	ErrBadVerificationCode    = errors.New("invalid SMS or email verification code")
	ErrLoginTimeout           = errors.New("login polling timed out")
	ErrEnrollTimeout          = errors.New("authenticator finalize timed out")
	ErrSessionExpired         = errors.New("session expired, fresh login required")
	ErrEnrollNotActivated     = errors.New("authenticator accepted but not yet active")
)
