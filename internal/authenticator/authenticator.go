// Package authenticator parses and checks the authenticatorData structure
// embedded in both the attestation object and the assertion envelope (see
// https://www.w3.org/TR/webauthn/#sctn-authenticator-data, §6.1, as
// App Attest uses it). It is adapted from the original appattest module's
// authenticator package, generalized to carry a devMode flag through
// instead of a single hardcoded environment.
package authenticator

import (
	"bytes"
	"encoding/binary"

	"github.com/appattest/server/utils"
)

const minAuthDataLength = 37

// AAGUID values for the two App Attest environments (spec §4.2 step 7):
// the development build tag, and "appattest" zero-padded to 16 bytes for
// production.
var (
	aaguidDevelopment = []byte("appattestdevelop")
	aaguidProduction  = append([]byte("appattest"), make([]byte, 7)...)
)

// Data is the parsed authenticatorData structure (spec §4.1). Both
// ceremonies hash the original authData bytes verbatim as part of their
// nonce derivation, but they do so directly off the wire bytes they
// already hold, so Data itself need not retain a copy.
type Data struct {
	RPIDHash []byte
	Flags    Flags
	Counter  uint32
	AttData  AttestedCredentialData
}

// AttestedCredentialData is present only in the attestation object layout,
// never in the 37-byte assertion layout. The credential public key that
// follows credentialId in the wire format is COSE-encoded and unused here:
// VerifyAttestation derives the device's public key from the leaf
// certificate instead (certchain.LeafPublicKey), so it is never parsed out.
type AttestedCredentialData struct {
	AAGUID       []byte
	CredentialID []byte
}

// Flags is the single authenticatorData flags byte. App Attest does not
// use any of these bits for trust decisions — attested-data presence is
// inferred from length, not the flag (see Unmarshal) — so it is decoded
// and kept on Data but otherwise unexamined.
type Flags byte

// Unmarshal decodes raw authenticatorData bytes per spec §4.1's fixed
// offsets. Apple sets the attestedCredentialData flag even on assertion
// responses where no attested data follows, so — as the original
// implementation notes — presence is inferred from length, not the flag.
func (a *Data) Unmarshal(raw []byte) error {
	if len(raw) < minAuthDataLength {
		return utils.ErrTruncatedAuthData.Withf(
			"authenticator data too short: want >= %d bytes, got %d", minAuthDataLength, len(raw))
	}

	a.RPIDHash = raw[:32]
	a.Flags = Flags(raw[32])
	a.Counter = binary.BigEndian.Uint32(raw[33:37])

	if len(raw) == minAuthDataLength {
		return nil
	}

	return a.unmarshalAttestedData(raw)
}

func (a *Data) unmarshalAttestedData(raw []byte) error {
	if len(raw) < 55 {
		return utils.ErrTruncatedAuthData.WithDetails("attested credential header truncated")
	}
	a.AttData.AAGUID = raw[37:53]
	idLen := binary.BigEndian.Uint16(raw[53:55])
	if len(raw) < 55+int(idLen) {
		return utils.ErrTruncatedAuthData.WithDetails("credentialId truncated")
	}
	a.AttData.CredentialID = raw[55 : 55+idLen]
	return nil
}

// VerifyAttestedEnvironment runs spec §4.2 steps 5-8: RP-ID binding,
// fresh (zero) counter, AAGUID environment match, and credential-ID
// identity. It assumes Unmarshal has already populated AttData.
func (a *Data) VerifyAttestedEnvironment(rpIDHash, keyID []byte, devMode bool) error {
	if !bytes.Equal(a.RPIDHash, rpIDHash) {
		return utils.ErrRpIdMismatch.Withf("rpIdHash mismatch: got %x want %x", a.RPIDHash, rpIDHash)
	}

	if a.Counter != 0 {
		return utils.ErrNonZeroCounter.Withf("expected fresh counter 0, got %d", a.Counter)
	}

	want := aaguidProduction
	if devMode {
		want = aaguidDevelopment
	}
	if !bytes.Equal(a.AttData.AAGUID, want) {
		return utils.ErrWrongEnvironment.Withf("aaguid %x does not match expected environment (devMode=%v)", a.AttData.AAGUID, devMode)
	}

	if !bytes.Equal(a.AttData.CredentialID, keyID) {
		return utils.ErrCredentialIdMismatch.WithDetails("credentialId does not match the provided key id")
	}

	return nil
}

// VerifyRPID runs the RP-ID half of spec §4.3 step 4, shared by assertion
// verification (which has no AAGUID/counter/credentialId to check, since
// the 37-byte assertion layout carries none of that).
func (a *Data) VerifyRPID(rpIDHash []byte) error {
	if !bytes.Equal(a.RPIDHash, rpIDHash) {
		return utils.ErrRpIdMismatch.Withf("rpIdHash mismatch: got %x want %x", a.RPIDHash, rpIDHash)
	}
	return nil
}
