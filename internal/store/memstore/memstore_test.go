package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/appattest/server/internal/store/memstore"
	"github.com/appattest/server/internal/store/storetest"
)

func TestMemstoreContract(t *testing.T) {
	storetest.Run(t, memstore.New())
}

func TestIssueNonceRejectsInvalidDeviceID(t *testing.T) {
	s := memstore.New()
	_, err := s.IssueNonce(context.Background(), "short")
	assert.Error(t, err)
}
