package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/appattest/server/internal/logging"
)

// requestIDMiddleware tags every request with a UUID, grounded on
// other_examples/breatheroute and virtengine's use of google/uuid for
// request/command correlation identifiers (SPEC_FULL.md §10).
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggerMiddleware logs each request's method and path at debug level,
// tagged with the request id and the device-id header. It does not hand
// a logger down; handlers build their own from logging.WithRequest.
func loggerMiddleware(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logging.WithRequest(base, requestIDFromContext(r.Context()), r.Header.Get("device-id"))
			l.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}
