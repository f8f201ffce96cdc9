// Package store defines the narrow storage capability the verification
// core depends on (spec §9: "the store is naturally a narrow capability
// ... four methods, two implementations"), and the DeviceRecord entity
// (spec §3). Concrete implementations live in the memstore and pgstore
// subpackages; handlers and the attestation/assertion orchestration in
// internal/httpapi depend only on this interface.
package store

import (
	"context"
	"regexp"
	"time"

	"github.com/appattest/server/utils"
)

// DeviceRecord is the single persisted entity (spec §3).
type DeviceRecord struct {
	DeviceID  string
	KeyID     string // empty until registration completes
	Nonce     string // empty after being consumed by a successful registration
	PublicKey string // PEM, empty until registration completes
	Counter   uint32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// deviceIDPattern enforces spec §6's device-id header format: 8-64 chars,
// alphanumeric plus hyphen.
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{8,64}$`)

// ValidateDeviceID reports spec §6's device-id format rule as a core
// error, so both httpapi and Store implementations can reuse the same
// check instead of re-deriving the regex.
func ValidateDeviceID(deviceID string) error {
	if !deviceIDPattern.MatchString(deviceID) {
		return utils.ErrInvalidInput.WithDetails("device-id must be 8-64 characters of [a-zA-Z0-9-]")
	}
	return nil
}

// Store is the abstract persistence capability spec §4.4 and §9 describe:
// issue a nonce, look a device up two ways, upsert an attestation, and
// advance the counter with an optimistic compare-and-swap.
type Store interface {
	// IssueNonce generates a fresh base64 challenge and upserts it onto
	// deviceID's row, creating the row if absent (spec §4.4 issueNonce).
	IssueNonce(ctx context.Context, deviceID string) (nonce string, err error)

	// LookupByDeviceID returns the current row for deviceID, or a nil
	// record and utils.ErrNoPendingNonce if no row exists. A row that
	// exists but is not yet attested has PublicKey == "".
	LookupByDeviceID(ctx context.Context, deviceID string) (*DeviceRecord, error)

	// LookupByKeyAndDevice returns the row matching both keyID and
	// deviceID, or utils.ErrNoKeyForDevice if none matches (spec §4.4
	// verifyAndAdvance).
	LookupByKeyAndDevice(ctx context.Context, keyID, deviceID string) (*DeviceRecord, error)

	// UpsertAttestation records a completed registration (spec §4.4
	// registerAttestation). Per SPEC_FULL.md §9 item 2, it resets Counter
	// to 0 when keyID differs from the row's current KeyID (a genuine
	// re-attestation with a new key), and leaves Counter untouched
	// otherwise.
	UpsertAttestation(ctx context.Context, deviceID, keyID, publicKeyPEM string) error

	// AdvanceCounter atomically sets Counter to next, conditional on the
	// stored value still equaling observed (spec §4.4 verifyAndAdvance,
	// §5 "linearizable per keyId"). Returns utils.ErrCounterRegression if
	// the stored value has since moved past observed.
	AdvanceCounter(ctx context.Context, deviceID string, observed, next uint32) error
}
