package certchain_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appattest/server/internal/certchain"
	"github.com/appattest/server/utils"
)

var nonceExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

type nonceExtensionValue struct {
	Nonce []byte `asn1:"explicit,tag:1"`
}

type testChain struct {
	rootCert *x509.Certificate
	leafDER  []byte
	intDER   []byte
	leafKey  *ecdsa.PrivateKey
}

func buildTestChain(t *testing.T, nonce []byte) testChain {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	intKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	intTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Intermediate"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	intDER, err := x509.CreateCertificate(rand.Reader, intTemplate, rootCert, &intKey.PublicKey, rootKey)
	require.NoError(t, err)
	intCert, err := x509.ParseCertificate(intDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	if nonce != nil {
		extVal, err := asn1.Marshal(nonceExtensionValue{Nonce: nonce})
		require.NoError(t, err)
		leafTemplate.ExtraExtensions = []pkix.Extension{{Id: nonceExtensionOID, Value: extVal}}
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, intCert, &leafKey.PublicKey, intKey)
	require.NoError(t, err)

	return testChain{rootCert: rootCert, leafDER: leafDER, intDER: intDER, leafKey: leafKey}
}

func TestParse_RequiresAtLeastTwoCerts(t *testing.T) {
	_, err := certchain.Parse([][]byte{[]byte("only-one")})
	require.Error(t, err)
	assert.Equal(t, utils.ErrInvalidCertChain.Type, err.(*utils.Error).Type)
}

func TestParse_RejectsGarbageDER(t *testing.T) {
	_, err := certchain.Parse([][]byte{[]byte("garbage"), []byte("also-garbage")})
	require.Error(t, err)
	assert.Equal(t, utils.ErrInvalidCertChain.Type, err.(*utils.Error).Type)
}

func TestVerifyAgainstRoots_TrustedChain(t *testing.T) {
	tc := buildTestChain(t, []byte("unused"))
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(tc.rootCert)

	assert.NoError(t, chain.VerifyAgainstRoots(roots, time.Now()))
}

func TestVerifyAgainstRoots_UntrustedRoot(t *testing.T) {
	tc := buildTestChain(t, []byte("unused"))
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	otherRoots := x509.NewCertPool() // empty — tc's root is not in it

	err = chain.VerifyAgainstRoots(otherRoots, time.Now())
	require.Error(t, err)
	assert.Equal(t, utils.ErrInvalidCertChain.Type, err.(*utils.Error).Type)
}

func TestVerifyAgainstRoots_ExpiredAtReferenceTime(t *testing.T) {
	tc := buildTestChain(t, []byte("unused"))
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(tc.rootCert)

	future := time.Now().Add(48 * time.Hour) // past the 24h NotAfter
	err = chain.VerifyAgainstRoots(roots, future)
	require.Error(t, err)
	assert.Equal(t, utils.ErrInvalidCertChain.Type, err.(*utils.Error).Type)
}

func TestNonceExtensionValue_RoundTrips(t *testing.T) {
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	tc := buildTestChain(t, want)
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	got, err := chain.NonceExtensionValue()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNonceExtensionValue_MissingExtension(t *testing.T) {
	tc := buildTestChain(t, nil)
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	_, err = chain.NonceExtensionValue()
	require.Error(t, err)
	assert.Equal(t, utils.ErrNonceMismatch.Type, err.(*utils.Error).Type)
}

func TestLeafPublicKeyAndKeyID(t *testing.T) {
	tc := buildTestChain(t, []byte("unused"))
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	pub, err := chain.LeafPublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(&tc.leafKey.PublicKey))

	point := certchain.SEC1UncompressedPoint(pub)
	assert.Equal(t, byte(0x04), point[0])
	assert.Len(t, point, 65)

	id1 := certchain.KeyID(pub)
	id2 := certchain.KeyID(&tc.leafKey.PublicKey)
	assert.Equal(t, id1, id2)
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	tc := buildTestChain(t, []byte("unused"))
	chain, err := certchain.Parse([][]byte{tc.leafDER, tc.intDER})
	require.NoError(t, err)

	pub, err := chain.LeafPublicKey()
	require.NoError(t, err)

	pemStr, err := certchain.EncodePublicKeyPEM(pub)
	require.NoError(t, err)
	assert.Contains(t, pemStr, "BEGIN PUBLIC KEY")

	decoded, err := certchain.DecodePublicKeyPEM(pemStr)
	require.NoError(t, err)
	assert.True(t, pub.Equal(decoded))
}

func TestDecodePublicKeyPEM_RejectsGarbage(t *testing.T) {
	_, err := certchain.DecodePublicKeyPEM("not pem at all")
	require.Error(t, err)
	assert.Equal(t, utils.ErrStorage.Type, err.(*utils.Error).Type)
}
