package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/appattest/server/internal/assertion"
	"github.com/appattest/server/internal/certchain"
	"github.com/appattest/server/internal/logging"
	"github.com/appattest/server/internal/metrics"
	"github.com/appattest/server/internal/store"
	"github.com/appattest/server/utils"
)

const maxAssertionInputs = 20

var assertionInputNamePattern = regexp.MustCompile(`^[a-z0-9-]{1,50}$`)

// RequireAssertion is the chi middleware spec §6 describes: it verifies
// the assertion envelope before calling the wrapped handler, and injects
// the verified device id into the request context.
func (a *api) RequireAssertion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.WithRequest(a.deps.Logger, requestIDFromContext(r.Context()), r.Header.Get("device-id"))

		deviceID, keyID, clientData, sigBytes, err := parseAssertionRequest(r)
		if err != nil {
			metrics.Assertions.WithLabelValues(utils.AsCoreError(err).Type).Inc()
			writeError(w, l, "verifyAndAdvance", err)
			return
		}

		if err := assertion.CheckNonceFreshness(r.Header.Get("nonce"), a.deps.Now()); err != nil {
			metrics.Assertions.WithLabelValues(utils.AsCoreError(err).Type).Inc()
			writeError(w, l, "verifyAndAdvance", err)
			return
		}

		row, err := a.deps.Store.LookupByKeyAndDevice(r.Context(), keyID, deviceID)
		if err != nil {
			metrics.Assertions.WithLabelValues(utils.AsCoreError(err).Type).Inc()
			writeError(w, l, "verifyAndAdvance", err)
			return
		}

		pub, err := certchain.DecodePublicKeyPEM(row.PublicKey)
		if err != nil {
			metrics.Assertions.WithLabelValues(utils.AsCoreError(err).Type).Inc()
			writeError(w, l, "verifyAndAdvance", err)
			return
		}

		assertEnv := assertion.Environment{TeamID: a.deps.Env.TeamID, BundleID: a.deps.Env.BundleID}
		result, err := assertion.Verify(sigBytes, clientData, pub, row.Counter, assertEnv)
		if err != nil {
			metrics.Assertions.WithLabelValues(utils.AsCoreError(err).Type).Inc()
			writeError(w, l, "verifyAndAdvance", err)
			return
		}

		if err := a.deps.Store.AdvanceCounter(r.Context(), deviceID, row.Counter, result.NewCounter); err != nil {
			metrics.Assertions.WithLabelValues(utils.AsCoreError(err).Type).Inc()
			writeError(w, l, "verifyAndAdvance", err)
			return
		}

		metrics.Assertions.WithLabelValues("ok").Inc()

		ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseAssertionRequest extracts and validates the headers spec §6 lists
// for an assertion-protected request, and builds the clientData mapping
// internal/assertion.CanonicalJSON signs over.
func parseAssertionRequest(r *http.Request) (deviceID, keyID string, clientData map[string]string, sigBytes []byte, err error) {
	deviceID = r.Header.Get("device-id")
	if verr := store.ValidateDeviceID(deviceID); verr != nil {
		return "", "", nil, nil, verr
	}

	keyID = r.Header.Get("key-id")
	if len(keyID) != 44 {
		return "", "", nil, nil, utils.ErrInvalidInput.WithDetails("key-id header must be 44 characters of base64")
	}

	sigB64 := r.Header.Get("signature")
	if sigB64 == "" {
		return "", "", nil, nil, utils.ErrInvalidInput.WithDetails("missing signature header")
	}
	sigBytes, decErr := decodeBase64URLOrStd(sigB64)
	if decErr != nil {
		return "", "", nil, nil, utils.ErrInvalidInput.WithDetails("signature header is not valid base64")
	}

	inputsHeader := r.Header.Get("assertion-inputs")
	if inputsHeader == "" {
		return "", "", nil, nil, utils.ErrInvalidInput.WithDetails("missing assertion-inputs header")
	}
	names := strings.Split(inputsHeader, ";")
	if len(names) > maxAssertionInputs {
		return "", "", nil, nil, utils.ErrInvalidInput.Withf("assertion-inputs lists %d headers, max is %d", len(names), maxAssertionInputs)
	}

	clientData = make(map[string]string, len(names))
	for _, name := range names {
		if !assertionInputNamePattern.MatchString(name) {
			return "", "", nil, nil, utils.ErrInvalidInput.Withf("invalid assertion-inputs header name %q", name)
		}
		clientData[name] = r.Header.Get(name)
	}

	if r.Header.Get("nonce") == "" {
		return "", "", nil, nil, utils.ErrInvalidInput.WithDetails("missing nonce header")
	}

	return deviceID, keyID, clientData, sigBytes, nil
}
