package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/appattest/server/internal/logging"
	"github.com/appattest/server/utils"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a core error to spec §7's external status codes and
// logs the operator-facing detail, returning only the generic taxonomy
// name to the client so verification sub-reasons never become an oracle.
func writeError(w http.ResponseWriter, l zerolog.Logger, op string, err error) {
	ce := utils.AsCoreError(err)
	logging.LogVerificationFailure(l, op, ce.Type, ce.Details)
	writeJSON(w, ce.Status, map[string]string{"error": ce.Type})
}
