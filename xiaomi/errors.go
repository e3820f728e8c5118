package xiaomi

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors surfaced by the Client facade.
var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoSpeakers     = errors.New("no speakers found")
)

// AuthError is an OAuth failure: invalid or missing code/refresh token,
// a malformed token response, or a 401 from either host. Callers should
// treat it as "must re-login"; it is never retried automatically.
type AuthError struct {
	Code    int // HTTP status when the failure came off the wire, else 0
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("auth: %s (status %d)", e.Message, e.Code)
	}
	return "auth: " + e.Message
}

// Unauthorized reports whether the error was a 401 and therefore worth
// one refresh-and-retry attempt by the facade.
func (e *AuthError) Unauthorized() bool {
	return e.Code == 401
}

// APIError is a terminal per-call failure from the REST surface: either a
// non-2xx HTTP status or a non-zero application code in the envelope.
type APIError struct {
	Code    int // application code, or HTTP status for transport failures
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (code %d)", e.Message, e.Code)
}

// StorageError is an I/O failure on the credential file other than
// not-found. Fatal to the current operation, not retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SpeakerError is raised when a device fails the speaker-capability check
// or an action invocation returns a non-zero result code.
type SpeakerError struct {
	Did     string
	Message string
}

func (e *SpeakerError) Error() string {
	if e.Did != "" {
		return fmt.Sprintf("speaker %s: %s", e.Did, e.Message)
	}
	return "speaker: " + e.Message
}

// IsTimeout reports whether err was caused by a request deadline rather
// than a generic network failure, so callers can decide to retry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsUnauthorized reports whether err is an AuthError carrying a 401.
func IsUnauthorized(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Unauthorized()
}
