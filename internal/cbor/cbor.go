// Package cbor decodes the two binary envelopes App Attest carries over
// the wire: the attestation object (produced by DCAppAttestService on
// attestKey) and the assertion envelope (produced on generateAssertion).
// It reuses the teacher module's CBOR library choice, ugorji/go/codec,
// which the original authenticator package already used to re-encode
// COSE credential public keys.
package cbor

import (
	"reflect"

	"github.com/ugorji/go/codec"

	"github.com/appattest/server/utils"
)

var cborHandle = func() *codec.CborHandle {
	h := new(codec.CborHandle)
	// Every map key in both envelopes is a CBOR text string; force
	// decoded maps into map[string]interface{} rather than codec's
	// default map[interface{}]interface{}.
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}()

// AttestationObject is the decoded top-level CBOR map (spec §4.1).
type AttestationObject struct {
	Fmt      string
	X5C      [][]byte
	Receipt  []byte
	AuthData []byte
}

// AssertionEnvelope is the decoded assertion CBOR map (spec §4.1).
type AssertionEnvelope struct {
	Signature         []byte
	AuthenticatorData []byte
}

// DecodeAttestationObject decodes the raw CBOR bytes of an attestation
// object into its fmt/attStmt/authData parts.
func DecodeAttestationObject(raw []byte) (*AttestationObject, error) {
	var m map[string]interface{}
	if err := decode(raw, &m); err != nil {
		return nil, err
	}

	fmtVal, _ := m["fmt"].(string)
	if fmtVal != "apple-appattest" {
		return nil, utils.ErrMalformedCbor.Withf(`unexpected "fmt": %q`, fmtVal)
	}

	authData, ok := m["authData"].([]byte)
	if !ok {
		return nil, utils.ErrMalformedCbor.WithDetails(`missing or non-binary "authData"`)
	}

	attStmt, ok := m["attStmt"].(map[string]interface{})
	if !ok {
		return nil, utils.ErrMalformedCbor.WithDetails(`missing or non-map "attStmt"`)
	}

	x5cRaw, ok := attStmt["x5c"].([]interface{})
	if !ok || len(x5cRaw) < 2 {
		return nil, utils.ErrMalformedCbor.WithDetails(`"attStmt.x5c" must carry at least 2 certificates`)
	}

	x5c := make([][]byte, 0, len(x5cRaw))
	for _, c := range x5cRaw {
		der, ok := c.([]byte)
		if !ok {
			return nil, utils.ErrMalformedCbor.WithDetails(`"attStmt.x5c" entry is not a byte string`)
		}
		x5c = append(x5c, der)
	}

	receipt, _ := attStmt["receipt"].([]byte)

	return &AttestationObject{
		Fmt:      fmtVal,
		X5C:      x5c,
		Receipt:  receipt,
		AuthData: authData,
	}, nil
}

// DecodeAssertionEnvelope decodes the raw CBOR bytes of an assertion
// signature envelope into its signature/authenticatorData parts.
func DecodeAssertionEnvelope(raw []byte) (*AssertionEnvelope, error) {
	var m map[string]interface{}
	if err := decode(raw, &m); err != nil {
		return nil, err
	}

	sig, ok := m["signature"].([]byte)
	if !ok {
		return nil, utils.ErrMalformedCbor.WithDetails(`missing or non-binary "signature"`)
	}

	authData, ok := m["authenticatorData"].([]byte)
	if !ok {
		return nil, utils.ErrMalformedCbor.WithDetails(`missing or non-binary "authenticatorData"`)
	}

	return &AssertionEnvelope{Signature: sig, AuthenticatorData: authData}, nil
}

func decode(raw []byte, out interface{}) error {
	dec := codec.NewDecoderBytes(raw, cborHandle)
	if err := dec.Decode(out); err != nil {
		return utils.ErrMalformedCbor.WithDetails(err.Error())
	}
	return nil
}
