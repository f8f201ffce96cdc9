// Package storetest runs the same black-box test suite against any
// store.Store implementation, so memstore and pgstore are held to
// identical semantics (SPEC_FULL.md §10's "contract tests across store
// backends").
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appattest/server/internal/store"
	"github.com/appattest/server/utils"
)

// Run exercises the full device lifecycle from spec §4.4's state machine
// against s, failing t on any deviation.
func Run(t *testing.T, s store.Store) {
	ctx := context.Background()
	deviceID := "contract-test-device-1"

	// [NoRow] --issueNonce--> [NoncePending]
	n1, err := s.IssueNonce(ctx, deviceID)
	require.NoError(t, err)
	require.NotEmpty(t, n1)

	row, err := s.LookupByDeviceID(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, n1, row.Nonce)
	assert.Equal(t, uint32(0), row.Counter)
	assert.Empty(t, row.PublicKey)

	// [NoncePending] --issueNonce--> [NoncePending] (replace nonce)
	n2, err := s.IssueNonce(ctx, deviceID)
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)

	// registerAttestation without a pending nonce fails.
	noNonceDevice := "contract-test-device-2"
	_, err = s.LookupByDeviceID(ctx, noNonceDevice)
	assert.True(t, isErr(err, utils.ErrNoPendingNonce))
	err = s.UpsertAttestation(ctx, noNonceDevice, "key-x", "pem-x")
	assert.True(t, isErr(err, utils.ErrNoPendingNonce))

	// [NoncePending] --registerAttestation(ok)--> [Attested(counter=0)]
	err = s.UpsertAttestation(ctx, deviceID, "key-1", "pem-1")
	require.NoError(t, err)

	attested, err := s.LookupByKeyAndDevice(ctx, "key-1", deviceID)
	require.NoError(t, err)
	assert.Equal(t, "pem-1", attested.PublicKey)
	assert.Equal(t, uint32(0), attested.Counter)
	assert.Empty(t, attested.Nonce, "nonce must be consumed by registration")

	// Wrong keyId/deviceId pairing surfaces NoKeyForDevice.
	_, err = s.LookupByKeyAndDevice(ctx, "wrong-key", deviceID)
	assert.True(t, isErr(err, utils.ErrNoKeyForDevice))

	// [Attested(c)] --verifyAndAdvance(c' > c)--> [Attested(c')]
	err = s.AdvanceCounter(ctx, deviceID, 0, 1)
	require.NoError(t, err)

	attested, err = s.LookupByKeyAndDevice(ctx, "key-1", deviceID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), attested.Counter)

	// Replaying the same observed counter fails (CounterRegression).
	err = s.AdvanceCounter(ctx, deviceID, 0, 1)
	assert.True(t, isErr(err, utils.ErrCounterRegression))

	// [Attested(c)] --issueNonce--> [Attested(c), nonce refreshed]
	n3, err := s.IssueNonce(ctx, deviceID)
	require.NoError(t, err)
	assert.NotEmpty(t, n3)
	afterNonce, err := s.LookupByKeyAndDevice(ctx, "key-1", deviceID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), afterNonce.Counter, "issuing a nonce must not disturb the counter")

	// [Attested(c)] --registerAttestation(ok, new key)--> counter reset
	err = s.UpsertAttestation(ctx, deviceID, "key-2", "pem-2")
	require.NoError(t, err)
	reattested, err := s.LookupByKeyAndDevice(ctx, "key-2", deviceID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), reattested.Counter, "re-attestation with a new key resets the counter")
	assert.Equal(t, "pem-2", reattested.PublicKey)
}

func isErr(err error, sentinel *utils.Error) bool {
	ce, ok := err.(*utils.Error)
	return ok && ce.Type == sentinel.Type
}
