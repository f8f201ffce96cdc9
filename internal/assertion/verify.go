// Package assertion implements the per-request assertion verification
// ceremony: spec §4.3's signature/RP-ID/counter pipeline plus the §5
// nonce-age freshness check every assertion-protected request carries.
package assertion

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/appattest/server/internal/authenticator"
	"github.com/appattest/server/internal/cbor"
	"github.com/appattest/server/utils"
)

// Nonce-age acceptance window (spec §5): the assertion's `nonce` header
// (a Unix-epoch-seconds timestamp) must land within this window of now.
// Named constants rather than inline literals so the window is a single
// auditable location (SPEC_FULL.md §5).
const (
	MaxNonceFutureSkew = 60 * time.Second
	MaxNonceAge        = 300 * time.Second
)

// Environment names the RP-ID binding, reused from the attestation
// package's naming but kept local to avoid a dependency edge the other
// way — assertion verification never needs DevMode or AAGUID.
type Environment struct {
	TeamID   string
	BundleID string
}

func (e Environment) rpIDHash() [32]byte {
	return sha256.Sum256([]byte(e.TeamID + "." + e.BundleID))
}

// Result is what a successful Verify call returns.
type Result struct {
	NewCounter uint32
}

// CheckNonceFreshness validates the `nonce` header against spec §5's
// +60s/-300s window (at most 60s in the future, at most 300s old). It is a distinct call from Verify because the
// header is a decimal Unix timestamp, not the CBOR envelope's nonce.
func CheckNonceFreshness(nonceHeader string, now time.Time) error {
	sec, err := strconv.ParseInt(nonceHeader, 10, 64)
	if err != nil {
		return utils.ErrInvalidInput.Withf("nonce header is not a decimal timestamp: %v", err)
	}
	ts := time.Unix(sec, 0)
	age := now.Sub(ts)
	if age > MaxNonceAge {
		return utils.ErrStaleNonce.Withf("nonce is %s old, max age is %s", age, MaxNonceAge)
	}
	if -age > MaxNonceFutureSkew {
		return utils.ErrStaleNonce.Withf("nonce is %s in the future, max skew is %s", -age, MaxNonceFutureSkew)
	}
	return nil
}

// Verify runs spec §4.3's verification steps: decode the CBOR envelope,
// reconstruct the signed nonce from the canonicalized client data, verify
// the ECDSA signature, check RP-ID, and enforce counter monotonicity.
//
// Per spec §9's open question on the ECDSA convention, this implementation
// hashes the reconstructed nonce once more inside VerifyASN1 (i.e. the
// signed message is effectively SHA-256(SHA-256(authData||clientDataHash))
// as far as the verifier sees it) — see SPEC_FULL.md §9 item 1 for why
// this convention, not the single-hash reading of the WebAuthn spec text,
// was chosen.
func Verify(signatureB64Decoded []byte, clientData map[string]string, pub *ecdsa.PublicKey, storedCounter uint32, env Environment) (*Result, error) {
	envelope, err := cbor.DecodeAssertionEnvelope(signatureB64Decoded)
	if err != nil {
		return nil, err
	}

	canonical := CanonicalJSON(clientData)
	clientDataHash := sha256.Sum256([]byte(canonical))

	nonce := sha256.Sum256(append(append([]byte{}, envelope.AuthenticatorData...), clientDataHash[:]...))
	digest := sha256.Sum256(nonce[:])

	if !ecdsa.VerifyASN1(pub, digest[:], envelope.Signature) {
		return nil, utils.ErrBadSignature.WithDetails("ECDSA signature verification failed")
	}

	var authData authenticator.Data
	if err := authData.Unmarshal(envelope.AuthenticatorData); err != nil {
		return nil, err
	}

	rpHash := env.rpIDHash()
	if err := authData.VerifyRPID(rpHash[:]); err != nil {
		return nil, err
	}

	if authData.Counter <= storedCounter {
		return nil, utils.ErrCounterRegression.Withf("observed counter %d does not exceed stored counter %d", authData.Counter, storedCounter)
	}

	return &Result{NewCounter: authData.Counter}, nil
}
