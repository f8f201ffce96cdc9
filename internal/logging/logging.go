// Package logging configures the module's single zerolog.Logger and the
// per-request child-logger pattern internal/httpapi uses, grounded on the
// corpus's preference for zerolog (other_examples/breatheroute and
// posilva-simpleidentity both carry rs/zerolog).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide base logger. devMode switches between a
// human-readable console writer (local development) and structured JSON
// (production), matching the same devMode flag the attestation pipeline
// uses to pick the AAGUID environment — one flag, read once at startup.
func New(devMode bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if devMode {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// WithRequest returns a child logger tagged with request-scoped fields,
// the pattern every handler in internal/httpapi builds its logger from.
func WithRequest(base zerolog.Logger, requestID, deviceID string) zerolog.Logger {
	ctx := base.With().Str("request_id", requestID)
	if deviceID != "" {
		ctx = ctx.Str("device_id", deviceID)
	}
	return ctx.Logger()
}

// LogVerificationFailure logs a verification failure's operator-facing
// detail at warn level without leaking it to the client (spec §7:
// "Verification failures are logged with the specific sub-reason for
// operators but returned to clients as generic messages").
func LogVerificationFailure(l zerolog.Logger, op, reasonType, details string) {
	l.Warn().Str("op", op).Str("reason", reasonType).Str("details", details).Msg("verification failed")
}
