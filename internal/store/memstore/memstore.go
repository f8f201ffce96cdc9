// Package memstore is an in-memory store.Store, used by unit tests and
// local development. Guarded by a single sync.RWMutex over a map, the
// same pattern other_examples/breatheroute's SIWA verifier uses for its
// Apple-keys cache (internal/auth/siwa.go's keys map).
package memstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/appattest/server/internal/store"
	"github.com/appattest/server/utils"
)

// Store is an in-memory, process-local implementation of store.Store.
type Store struct {
	mu   sync.RWMutex
	rows map[string]*store.DeviceRecord // keyed by deviceID
}

// New returns an empty Store.
func New() *Store {
	return &Store{rows: make(map[string]*store.DeviceRecord)}
}

func (s *Store) IssueNonce(_ context.Context, deviceID string) (string, error) {
	if err := store.ValidateDeviceID(deviceID); err != nil {
		return "", err
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", utils.ErrStorage.Withf("generating nonce: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	row, ok := s.rows[deviceID]
	if !ok {
		row = &store.DeviceRecord{DeviceID: deviceID, CreatedAt: now}
		s.rows[deviceID] = row
	}
	row.Nonce = nonce
	row.UpdatedAt = now
	return nonce, nil
}

func (s *Store) LookupByDeviceID(_ context.Context, deviceID string) (*store.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[deviceID]
	if !ok {
		return nil, utils.ErrNoPendingNonce.WithDetails("no row for device id")
	}
	cp := *row
	return &cp, nil
}

func (s *Store) LookupByKeyAndDevice(_ context.Context, keyID, deviceID string) (*store.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[deviceID]
	if !ok || row.KeyID == "" || row.KeyID != keyID {
		return nil, utils.ErrNoKeyForDevice.WithDetails("no attested key for this device/keyId pair")
	}
	cp := *row
	return &cp, nil
}

func (s *Store) UpsertAttestation(_ context.Context, deviceID, keyID, publicKeyPEM string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[deviceID]
	if !ok || row.Nonce == "" {
		return utils.ErrNoPendingNonce.WithDetails("registerAttestation called without a prior nonce")
	}

	if row.KeyID != "" && row.KeyID != keyID {
		// Genuine re-attestation with a new key: reset the counter
		// (SPEC_FULL.md §9 item 2).
		row.Counter = 0
	}

	row.KeyID = keyID
	row.PublicKey = publicKeyPEM
	row.Nonce = ""
	row.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AdvanceCounter(_ context.Context, deviceID string, observed, next uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[deviceID]
	if !ok {
		return utils.ErrNoKeyForDevice.WithDetails("no row for device id")
	}
	if row.Counter != observed {
		return utils.ErrCounterRegression.Withf("stored counter %d has advanced past observed %d", row.Counter, observed)
	}
	row.Counter = next
	row.UpdatedAt = time.Now()
	return nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
