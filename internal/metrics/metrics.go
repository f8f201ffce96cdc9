// Package metrics exposes Prometheus counters for attestation and
// assertion outcomes, the ambient observability concern SPEC_FULL.md §10
// adds (grounded on other_examples/kacy-auth-proxy's prometheus/client_golang
// usage). Not itself a spec feature — the spec's scope is the
// verification pipeline, not its dashboards — so this stays a thin,
// optional layer the handlers call into.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Attestations counts registerAttestation outcomes by result label
	// ("ok" or a utils.Error Type such as "NonceMismatch").
	Attestations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appattest_attestations_total",
		Help: "Attestation registration attempts by outcome.",
	}, []string{"result"})

	// Assertions counts verifyAndAdvance outcomes by result label.
	Assertions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appattest_assertions_total",
		Help: "Assertion verification attempts by outcome.",
	}, []string{"result"})
)

// Register adds this package's collectors to reg. Called once from the
// composition root.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(Attestations, Assertions)
}
