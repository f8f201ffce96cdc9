// Package attestation implements the attestation registration ceremony's
// cryptographic core: spec §4.2's eight-step verification pipeline. It
// composes internal/cbor (envelope decode), internal/certchain (X.509
// chain + nonce extension + public key extraction) and
// internal/authenticator (authData field checks), in the order the spec
// lists them.
package attestation

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/appattest/server/internal/authenticator"
	"github.com/appattest/server/internal/cbor"
	"github.com/appattest/server/internal/certchain"
	"github.com/appattest/server/utils"
)

// Environment names the app identity the attested key is bound to. Every
// field is immutable after process startup (spec §5, "Shared resources").
type Environment struct {
	TeamID   string
	BundleID string
	DevMode  bool
}

// rpIDHash computes SHA-256(teamId + "." + bundleId), the RP-ID binding
// spec §4.2 step 5 and the glossary define.
func (e Environment) rpIDHash() [32]byte {
	return sha256.Sum256([]byte(e.TeamID + "." + e.BundleID))
}

// Result is what a successful VerifyAttestation call returns: the
// device's public key, ready to persist in DeviceRecord.publicKey.
type Result struct {
	PublicKeyPEM string
}

// VerifyAttestation runs spec §4.2's full pipeline against attestationBytes,
// binding it to the previously issued nonce and the caller-supplied key
// ID. now is threaded in explicitly (rather than read from time.Now())
// so chain-expiry checks are deterministic in tests.
func VerifyAttestation(nonce, keyID string, attestationBytes []byte, env Environment, now time.Time) (*Result, error) {
	return verifyAttestation(nonce, keyID, attestationBytes, env, now, nil)
}

// verifyAttestationWithRoots is VerifyAttestation parameterized over the
// trust anchor pool, so tests can exercise the full pipeline (including
// chain validation) against a disposable test CA instead of Apple's
// compiled-in root, whose private key this module never has access to.
// It is unexported; only this package's own tests call it.
func verifyAttestationWithRoots(nonce, keyID string, attestationBytes []byte, env Environment, now time.Time, roots *x509.CertPool) (*Result, error) {
	return verifyAttestation(nonce, keyID, attestationBytes, env, now, roots)
}

func verifyAttestation(nonce, keyID string, attestationBytes []byte, env Environment, now time.Time, roots *x509.CertPool) (*Result, error) {
	// Step 1: decode.
	obj, err := cbor.DecodeAttestationObject(attestationBytes)
	if err != nil {
		return nil, err
	}

	chain, err := certchain.Parse(obj.X5C)
	if err != nil {
		return nil, err
	}

	// Step 2: nonce binding.
	clientDataHash := sha256.Sum256([]byte(nonce))
	nonceHash := sha256.Sum256(append(append([]byte{}, obj.AuthData...), clientDataHash[:]...))

	extValue, err := chain.NonceExtensionValue()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(extValue, nonceHash[:]) {
		return nil, utils.ErrNonceMismatch.WithDetails("nonce extension does not match SHA-256(authData || SHA-256(nonce))")
	}

	// Step 3: chain validation.
	if roots != nil {
		err = chain.VerifyAgainstRoots(roots, now)
	} else {
		err = chain.Verify(now)
	}
	if err != nil {
		return nil, err
	}

	// Step 4: public-key identity.
	leafPub, err := chain.LeafPublicKey()
	if err != nil {
		return nil, err
	}
	keyIDBytes, err := base64.StdEncoding.DecodeString(keyID)
	if err != nil {
		return nil, utils.ErrInvalidInput.Withf("keyId is not valid base64: %v", err)
	}
	computedKeyID := certchain.KeyID(leafPub)
	if !bytes.Equal(computedKeyID[:], keyIDBytes) {
		return nil, utils.ErrKeyIdMismatch.WithDetails("leaf public key hash does not match the provided key id")
	}

	// Steps 5-8: authData field checks (RP-ID, counter, AAGUID, credentialId).
	var authData authenticator.Data
	if err := authData.Unmarshal(obj.AuthData); err != nil {
		return nil, err
	}
	rpHash := env.rpIDHash()
	if err := authData.VerifyAttestedEnvironment(rpHash[:], keyIDBytes, env.DevMode); err != nil {
		return nil, err
	}

	pem, err := certchain.EncodePublicKeyPEM(leafPub)
	if err != nil {
		return nil, err
	}

	return &Result{PublicKeyPEM: pem}, nil
}
