// Package certchain validates the X.509 leaf/intermediate chain embedded
// in an attestation object's x5c field against Apple's App Attest root,
// and extracts the two pieces of the leaf cert that matter for
// verification: the nonce-binding extension and the P-256 public key.
//
// This follows the same stdlib-only approach the corpus's WebAuthn-family
// examples use for certificate work (flaviup/webauthn's TPM attestation
// format and keycloud/webauthn's packed attestation format both call
// crypto/x509 directly rather than a third-party ASN.1 library) — there is
// no third-party X.509/ASN.1 library anywhere in the retrieved examples,
// so this is the ecosystem convention rather than a deviation from it.
package certchain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"time"

	"github.com/appattest/server/utils"
)

// nonceExtensionOID is the Apple App Attest OID carrying the nonce hash in
// the leaf credCert (spec §4.2 step 2).
var nonceExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

var appleRoot *x509.CertPool

func init() {
	appleRoot = x509.NewCertPool()
	if !appleRoot.AppendCertsFromPEM([]byte(appleAppAttestRootCAPEM)) {
		panic("certchain: failed to parse embedded Apple App Attest root CA")
	}
}

// Chain is the parsed, not-yet-validated leaf + intermediate certificates
// from an attestation object's x5c.
type Chain struct {
	Leaf          *x509.Certificate
	Intermediates []*x509.Certificate
}

// Parse parses the DER-encoded x5c sequence (leaf first) into a Chain.
func Parse(x5c [][]byte) (*Chain, error) {
	if len(x5c) < 2 {
		return nil, utils.ErrInvalidCertChain.WithDetails("x5c must contain at least 2 certificates")
	}

	leaf, err := x509.ParseCertificate(x5c[0])
	if err != nil {
		return nil, utils.ErrInvalidCertChain.Withf("parsing leaf certificate: %v", err)
	}

	intermediates := make([]*x509.Certificate, 0, len(x5c)-1)
	for _, der := range x5c[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, utils.ErrInvalidCertChain.Withf("parsing intermediate certificate: %v", err)
		}
		intermediates = append(intermediates, cert)
	}

	return &Chain{Leaf: leaf, Intermediates: intermediates}, nil
}

// Verify validates the chain against the embedded Apple App Attest root,
// at the given reference time (spec §4.2 step 3).
func (c *Chain) Verify(at time.Time) error {
	return c.VerifyAgainstRoots(appleRoot, at)
}

// VerifyAgainstRoots is Verify parameterized over the trust anchor pool,
// so tests can validate against a disposable test CA instead of Apple's
// compiled-in root (whose private key this module never has access to).
// Production code paths only ever call Verify.
func (c *Chain) VerifyAgainstRoots(roots *x509.CertPool, at time.Time) error {
	pool := x509.NewCertPool()
	for _, cert := range c.Intermediates {
		pool.AddCert(cert)
	}

	_, err := c.Leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: pool,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return utils.ErrInvalidCertChain.Withf("chain verification failed: %v", err)
	}
	return nil
}

// NonceExtensionValue extracts the OCTET STRING content from the leaf's
// nonce-binding extension (spec §4.2 step 2). Apple wraps it as a DER
// SEQUENCE containing a single context-tagged/octet-string value; we parse
// defensively down to the innermost octet string.
func (c *Chain) NonceExtensionValue() ([]byte, error) {
	for _, ext := range c.Leaf.Extensions {
		if !ext.Id.Equal(nonceExtensionOID) {
			continue
		}
		return unwrapNonceExtension(ext.Value)
	}
	return nil, utils.ErrNonceMismatch.WithDetails("leaf certificate is missing the App Attest nonce extension")
}

// unwrapNonceExtension descends ext.Value, which is:
//
//	SEQUENCE {
//	  [1] EXPLICIT OCTET STRING
//	}
//
// down to the raw octet string bytes.
func unwrapNonceExtension(der []byte) ([]byte, error) {
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(der, &seq); err != nil {
		return nil, utils.ErrNonceMismatch.Withf("unparsable nonce extension: %v", err)
	}

	var wrapped asn1.RawValue
	if _, err := asn1.Unmarshal(seq.Bytes, &wrapped); err != nil {
		return nil, utils.ErrNonceMismatch.Withf("unparsable nonce extension inner value: %v", err)
	}

	var octets []byte
	if _, err := asn1.Unmarshal(wrapped.Bytes, &octets); err != nil {
		// Some encoders emit the octet string directly at wrapped.Bytes
		// without a further explicit tag; fall back to treating it as
		// the raw octet content.
		return wrapped.Bytes, nil
	}
	return octets, nil
}

// LeafPublicKey extracts the leaf certificate's P-256 public key (spec
// §4.2 step 4). App Attest credCerts always carry an EC P-256 key.
func (c *Chain) LeafPublicKey() (*ecdsa.PublicKey, error) {
	pub, ok := c.Leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, utils.ErrInvalidCertChain.WithDetails("leaf certificate public key is not ECDSA")
	}
	if pub.Curve != elliptic.P256() {
		return nil, utils.ErrInvalidCertChain.WithDetails("leaf certificate public key is not on the P-256 curve")
	}
	return pub, nil
}

// SEC1UncompressedPoint re-encodes pub as the uncompressed SEC1 point
// (0x04 || X || Y), the form spec §3's keyId hash and §4.2 step 4 operate
// on.
func SEC1UncompressedPoint(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}

// KeyID computes the base64-less SHA-256 digest of the SEC1 uncompressed
// point — the raw bytes compared against the base64-decoded keyId (spec
// §4.2 step 4, §3).
func KeyID(pub *ecdsa.PublicKey) [32]byte {
	return sha256.Sum256(SEC1UncompressedPoint(pub))
}

// EncodePublicKeyPEM re-encodes pub as a PEM-wrapped SubjectPublicKeyInfo,
// the "PublicKeyPem" VerifyAttestation returns on success (spec §4.2) and
// the form DeviceRecord.publicKey is persisted in (spec §3).
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", utils.ErrInvalidCertChain.Withf("marshaling public key: %v", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePublicKeyPEM parses a PEM-wrapped SubjectPublicKeyInfo back into
// an ECDSA P-256 public key — the inverse of EncodePublicKeyPEM, used when
// loading a stored DeviceRecord.publicKey for assertion verification.
func DecodePublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, utils.ErrStorage.WithDetails("stored public key is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, utils.ErrStorage.Withf("parsing stored public key: %v", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecPub.Curve != elliptic.P256() {
		return nil, utils.ErrStorage.WithDetails("stored public key is not a P-256 EC key")
	}
	return ecPub, nil
}
