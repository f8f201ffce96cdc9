// Package utils holds the small set of cross-cutting helpers the rest of
// the module depends on: the tagged error type every verification step
// returns, and the base64/encoding helpers the wire formats need.
package utils

import "fmt"

// Error is a tagged variant returned by every core operation instead of an
// ad-hoc error string, so callers (in particular internal/httpapi) can map
// it to an HTTP status and a taxonomy name without string-matching.
type Error struct {
	// Type is the taxonomy name from spec §7, e.g. "NonceMismatch".
	Type string
	// Status is the HTTP status external callers should map this to.
	Status int
	// Details is an operator-facing explanation. Never sent to clients.
	Details string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Type
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// WithDetails returns a copy of e carrying an operator-facing detail
// string, mirroring the chained-error idiom the verification pipeline
// uses throughout (utils.ErrInvalidInput.WithDetails("...")).
func (e *Error) WithDetails(details string) *Error {
	return &Error{Type: e.Type, Status: e.Status, Details: details}
}

// Withf is WithDetails with fmt.Sprintf formatting.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Is lets errors.Is match against the sentinel by Type, ignoring Details,
// so callers can do errors.Is(err, utils.ErrNonceMismatch) regardless of
// which .WithDetails call produced the concrete value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// Sentinel taxonomy, spec §7. Status codes are the external HTTP mapping;
// internal callers should only switch on Type.
var (
	ErrInvalidInput = &Error{Type: "InvalidInput", Status: 400}

	ErrNoPendingNonce = &Error{Type: "NoPendingNonce", Status: 400}

	ErrMalformedCbor        = &Error{Type: "MalformedCbor", Status: 400}
	ErrTruncatedAuthData    = &Error{Type: "TruncatedAuthData", Status: 400}
	ErrNonceMismatch        = &Error{Type: "NonceMismatch", Status: 400}
	ErrInvalidCertChain     = &Error{Type: "InvalidCertChain", Status: 400}
	ErrKeyIdMismatch        = &Error{Type: "KeyIdMismatch", Status: 400}
	ErrRpIdMismatch         = &Error{Type: "RpIdMismatch", Status: 400}
	ErrNonZeroCounter       = &Error{Type: "NonZeroCounter", Status: 400}
	ErrWrongEnvironment     = &Error{Type: "WrongEnvironment", Status: 400}
	ErrCredentialIdMismatch = &Error{Type: "CredentialIdMismatch", Status: 400}

	ErrBadSignature     = &Error{Type: "BadSignature", Status: 400}
	ErrCounterRegression = &Error{Type: "CounterRegression", Status: 400}
	ErrStaleNonce        = &Error{Type: "StaleNonce", Status: 400}

	ErrNoKeyForDevice = &Error{Type: "NoKeyForDevice", Status: 422}

	ErrStorage = &Error{Type: "StorageError", Status: 500}
)

// AsCoreError extracts *Error from err, falling back to a generic
// InvalidInput wrapper so handlers never have to nil-check a type
// assertion before reading Status/Type.
func AsCoreError(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return ErrInvalidInput.WithDetails(err.Error())
}
