package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"math/big"
	"reflect"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/appattest/server/internal/certchain"
)

var nonceExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

type nonceExtensionValue struct {
	Nonce []byte `asn1:"explicit,tag:1"`
}

// fixture bundles everything a synthetic attestation object test needs:
// the trust root pool to validate against, the encoded CBOR bytes, and
// the inputs VerifyAttestation expects alongside it.
type fixture struct {
	roots             *x509.CertPool
	attestationObject []byte
	nonce             string
	keyID             string // base64, matches the leaf key's SHA-256
	env               Environment
}

// buildFixture synthesizes a self-contained CA chain + leaf credCert +
// authData + CBOR envelope that satisfies every step of VerifyAttestation
// when validated against its own (test-only) root pool.
func buildFixture(t interface{ Fatalf(string, ...interface{}) }, teamID, bundleID string, devMode bool, nonce string) *fixture {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating root key: %v", err)
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test App Attest Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("creating root cert: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatalf("parsing root cert: %v", err)
	}

	intKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating intermediate key: %v", err)
	}
	intTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test App Attest Intermediate CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	intDER, err := x509.CreateCertificate(rand.Reader, intTemplate, rootCert, &intKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("creating intermediate cert: %v", err)
	}
	intCert, err := x509.ParseCertificate(intDER)
	if err != nil {
		t.Fatalf("parsing intermediate cert: %v", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating leaf key: %v", err)
	}

	keyIDDigest := certchain.KeyID(&leafKey.PublicKey)
	keyIDB64 := base64.StdEncoding.EncodeToString(keyIDDigest[:])

	rpIDHash := sha256.Sum256([]byte(teamID + "." + bundleID))

	aaguid := make([]byte, 16)
	if devMode {
		copy(aaguid, []byte("appattestdevelop"))
	} else {
		copy(aaguid, []byte("appattest"))
	}

	authData := buildAuthData(rpIDHash[:], 0, aaguid, keyIDDigest[:])

	clientDataHash := sha256.Sum256([]byte(nonce))
	nonceHash := sha256.Sum256(append(append([]byte{}, authData...), clientDataHash[:]...))

	extVal, err := asn1.Marshal(nonceExtensionValue{Nonce: nonceHash[:]})
	if err != nil {
		t.Fatalf("marshaling nonce extension: %v", err)
	}

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test credCert"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		ExtraExtensions: []pkix.Extension{
			{Id: nonceExtensionOID, Value: extVal},
		},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, intCert, &leafKey.PublicKey, intKey)
	if err != nil {
		t.Fatalf("creating leaf cert: %v", err)
	}

	attObj := map[string]interface{}{
		"fmt": "apple-appattest",
		"attStmt": map[string]interface{}{
			"x5c":     []interface{}{leafDER, intDER},
			"receipt": []byte("unused-receipt-bytes"),
		},
		"authData": authData,
	}

	var raw []byte
	h := new(codec.CborHandle)
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	enc := codec.NewEncoderBytes(&raw, h)
	if err := enc.Encode(attObj); err != nil {
		t.Fatalf("encoding attestation object: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(rootCert)

	return &fixture{
		roots:             roots,
		attestationObject: raw,
		nonce:             nonce,
		keyID:             keyIDB64,
		env:               Environment{TeamID: teamID, BundleID: bundleID, DevMode: devMode},
	}
}

// buildAuthData lays out the attestation authData bytes per spec §4.1.
func buildAuthData(rpIDHash []byte, signCount uint32, aaguid, credentialID []byte) []byte {
	buf := make([]byte, 0, 37+16+2+len(credentialID)+8)
	buf = append(buf, rpIDHash...)
	buf = append(buf, 0x40) // flags: attested credential data present
	buf = append(buf, byte(signCount>>24), byte(signCount>>16), byte(signCount>>8), byte(signCount))
	buf = append(buf, aaguid...)
	buf = append(buf, byte(len(credentialID)>>8), byte(len(credentialID)))
	buf = append(buf, credentialID...)
	// Trailing CBOR-ish filler standing in for the credential public key
	// bytes; VerifyAttestation never parses this field's content.
	buf = append(buf, []byte{0xa1, 0x01, 0x02}...)
	return buf
}
