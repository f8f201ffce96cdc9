// Package httpapi wires the verification core onto HTTP, per spec §6's
// three request shapes. Routing uses go-chi/chi/v5, the router the
// breatheroute example service's manifest pulls in.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/appattest/server/internal/attestation"
	"github.com/appattest/server/internal/store"
)

// Deps bundles the dependencies handlers need, assembled once by the
// composition root and never mutated afterward.
type Deps struct {
	Store   store.Store
	Env     attestation.Environment
	Logger  zerolog.Logger
	Now     func() time.Time // overridable for tests; defaults to time.Now
}

// NewRouter builds the full chi.Router: the two unauthenticated endpoints
// (nonce issuance, attestation registration) plus a RequireAssertion
// middleware any protected route can mount (spec §6).
func NewRouter(deps Deps) chi.Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	a := &api{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggerMiddleware(deps.Logger))

	r.Post("/v1/nonce", a.issueNonce)
	r.Post("/v1/attestations", a.registerAttestation)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireAssertion)
		r.Get("/v1/ping", a.ping)
	})

	return r
}

type api struct {
	deps Deps
}

// ping is a minimal example of an assertion-protected application route —
// the spec treats the application payload behind RequireAssertion as
// external, so this just confirms the device identity the middleware
// verified.
func (a *api) ping(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := DeviceIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "status": "ok"})
}
