package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/appattest/server/internal/attestation"
	"github.com/appattest/server/internal/logging"
	"github.com/appattest/server/internal/metrics"
	"github.com/appattest/server/internal/store"
	"github.com/appattest/server/utils"
)

// issueNonce handles "POST /v1/nonce" (spec §6).
func (a *api) issueNonce(w http.ResponseWriter, r *http.Request) {
	l := logging.WithRequest(a.deps.Logger, requestIDFromContext(r.Context()), r.Header.Get("device-id"))

	deviceID := r.Header.Get("device-id")
	if err := store.ValidateDeviceID(deviceID); err != nil {
		writeError(w, l, "issueNonce", err)
		return
	}

	nonce, err := a.deps.Store.IssueNonce(r.Context(), deviceID)
	if err != nil {
		writeError(w, l, "issueNonce", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"nonce": nonce})
}

type registerAttestationRequest struct {
	KeyID             string                 `json:"keyId"`
	AttestationObject utils.URLEncodedBase64 `json:"attestationObject"`
}

// registerAttestation handles "POST /v1/attestations" (spec §6).
func (a *api) registerAttestation(w http.ResponseWriter, r *http.Request) {
	l := logging.WithRequest(a.deps.Logger, requestIDFromContext(r.Context()), r.Header.Get("device-id"))

	deviceID := r.Header.Get("device-id")
	if err := store.ValidateDeviceID(deviceID); err != nil {
		writeError(w, l, "registerAttestation", err)
		return
	}

	var req registerAttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, l, "registerAttestation", utils.ErrInvalidInput.Withf("malformed JSON body: %v", err))
		return
	}

	if len(req.KeyID) != 44 {
		writeError(w, l, "registerAttestation", utils.ErrInvalidInput.WithDetails("keyId must be 44 characters of base64"))
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.KeyID); err != nil {
		writeError(w, l, "registerAttestation", utils.ErrInvalidInput.WithDetails("keyId is not valid base64"))
		return
	}

	attestationBytes := []byte(req.AttestationObject)
	if len(attestationBytes) < 100 || len(attestationBytes) > 10000 {
		writeError(w, l, "registerAttestation", utils.ErrInvalidInput.WithDetails("attestationObject must decode to 100-10000 bytes"))
		return
	}

	row, err := a.deps.Store.LookupByDeviceID(r.Context(), deviceID)
	if err != nil {
		metrics.Attestations.WithLabelValues(utils.AsCoreError(err).Type).Inc()
		writeError(w, l, "registerAttestation", err)
		return
	}
	if row.Nonce == "" {
		metrics.Attestations.WithLabelValues(utils.ErrNoPendingNonce.Type).Inc()
		writeError(w, l, "registerAttestation", utils.ErrNoPendingNonce)
		return
	}

	result, err := attestation.VerifyAttestation(row.Nonce, req.KeyID, attestationBytes, a.deps.Env, a.deps.Now())
	if err != nil {
		metrics.Attestations.WithLabelValues(utils.AsCoreError(err).Type).Inc()
		writeError(w, l, "registerAttestation", err)
		return
	}

	if err := a.deps.Store.UpsertAttestation(r.Context(), deviceID, req.KeyID, result.PublicKeyPEM); err != nil {
		metrics.Attestations.WithLabelValues(utils.AsCoreError(err).Type).Inc()
		writeError(w, l, "registerAttestation", err)
		return
	}

	metrics.Attestations.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{})
}

// decodeBase64URLOrStd accepts either base64url or standard base64, with
// or without padding, since iOS clients and intermediary proxies are not
// perfectly consistent about which variant they emit.
func decodeBase64URLOrStd(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
