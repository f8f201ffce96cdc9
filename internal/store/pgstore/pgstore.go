// Package pgstore is the production store.Store backend: a Postgres
// "attestations" table (SPEC_FULL.md §3) accessed through pgx/v5, the
// relational driver the breatheroute example service's go.mod pulls in.
// No pgx source file was retrieved alongside that manifest, so query
// shapes here are authored directly against pgx's documented pool/Exec/
// QueryRow surface rather than adapted from a specific example file.
package pgstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appattest/server/internal/store"
	"github.com/appattest/server/utils"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-configured pgxpool.Pool. The composition root
// (cmd/appattestd) owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Schema is the DDL SPEC_FULL.md §3 specifies, exposed so migration
// tooling or tests can create the table without duplicating the DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS attestations (
    device_id   TEXT PRIMARY KEY,
    key_id      TEXT UNIQUE,
    nonce       TEXT,
    public_key  TEXT,
    counter     BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS attestations_device_id_idx ON attestations (device_id);
`

func (s *Store) IssueNonce(ctx context.Context, deviceID string) (string, error) {
	if err := store.ValidateDeviceID(deviceID); err != nil {
		return "", err
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", utils.ErrStorage.Withf("generating nonce: %v", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO attestations (device_id, nonce, counter, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (device_id) DO UPDATE SET nonce = EXCLUDED.nonce, updated_at = now()
	`, deviceID, nonce)
	if err != nil {
		return "", utils.ErrStorage.Withf("issuing nonce: %v", err)
	}
	return nonce, nil
}

func (s *Store) LookupByDeviceID(ctx context.Context, deviceID string) (*store.DeviceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT device_id, COALESCE(key_id, ''), COALESCE(nonce, ''), COALESCE(public_key, ''), counter, created_at, updated_at
		FROM attestations WHERE device_id = $1
	`, deviceID)
	return scanRow(row, utils.ErrNoPendingNonce.WithDetails("no row for device id"))
}

func (s *Store) LookupByKeyAndDevice(ctx context.Context, keyID, deviceID string) (*store.DeviceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT device_id, COALESCE(key_id, ''), COALESCE(nonce, ''), COALESCE(public_key, ''), counter, created_at, updated_at
		FROM attestations WHERE device_id = $1 AND key_id = $2
	`, deviceID, keyID)
	return scanRow(row, utils.ErrNoKeyForDevice.WithDetails("no attested key for this device/keyId pair"))
}

func (s *Store) UpsertAttestation(ctx context.Context, deviceID, keyID, publicKeyPEM string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return utils.ErrStorage.Withf("beginning transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	var existingKeyID, existingNonce string
	err = tx.QueryRow(ctx, `SELECT COALESCE(key_id, ''), COALESCE(nonce, '') FROM attestations WHERE device_id = $1 FOR UPDATE`, deviceID).
		Scan(&existingKeyID, &existingNonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return utils.ErrNoPendingNonce.WithDetails("registerAttestation called without a prior nonce")
	}
	if err != nil {
		return utils.ErrStorage.Withf("looking up device row: %v", err)
	}
	if existingNonce == "" {
		return utils.ErrNoPendingNonce.WithDetails("registerAttestation called without a prior nonce")
	}

	// SPEC_FULL.md §9 item 2: reset the counter only on a genuine
	// re-attestation (key change), not on a retry against the same key.
	resetCounter := existingKeyID != "" && existingKeyID != keyID

	_, err = tx.Exec(ctx, `
		UPDATE attestations
		SET key_id = $2, public_key = $3, nonce = '', updated_at = now(),
		    counter = CASE WHEN $4 THEN 0 ELSE counter END
		WHERE device_id = $1
	`, deviceID, keyID, publicKeyPEM, resetCounter)
	if err != nil {
		return utils.ErrStorage.Withf("updating device row: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return utils.ErrStorage.Withf("committing transaction: %v", err)
	}
	return nil
}

// AdvanceCounter retries its compare-and-swap UPDATE against transient
// serialization failures with a bounded constant backoff, absorbing
// Postgres SERIALIZABLE contention without pushing retry policy onto
// callers (SPEC_FULL.md §4.4).
func (s *Store) AdvanceCounter(ctx context.Context, deviceID string, observed, next uint32) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 3)

	return backoff.Retry(func() error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE attestations SET counter = $3, updated_at = now()
			WHERE device_id = $1 AND counter = $2
		`, deviceID, observed, next)
		if err != nil {
			return utils.ErrStorage.Withf("advancing counter: %v", err)
		}
		if tag.RowsAffected() == 0 {
			// Either the device doesn't exist, or the counter already
			// moved past `observed` — both are terminal, non-retryable
			// states for this call, so wrap as backoff.Permanent.
			return backoff.Permanent(utils.ErrCounterRegression.WithDetails(
				"stored counter no longer matches the observed value"))
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

func scanRow(row pgx.Row, notFound *utils.Error) (*store.DeviceRecord, error) {
	var rec store.DeviceRecord
	var counter int64
	err := row.Scan(&rec.DeviceID, &rec.KeyID, &rec.Nonce, &rec.PublicKey, &counter, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, utils.ErrStorage.Withf("scanning device row: %v", err)
	}
	rec.Counter = uint32(counter)
	return &rec, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
