// Package metrics exposes Prometheus instrumentation for the ticket
// kernel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the kernel's Prometheus collectors.
type Metrics struct {
	// TicketsIssued counts issued tickets by type.
	TicketsIssued *prometheus.CounterVec
	// TicketsValidated counts validation attempts by type and outcome.
	TicketsValidated *prometheus.CounterVec
	// TicketsRevoked counts tickets removed through revocation cascades.
	TicketsRevoked prometheus.Counter
	// TicketsSwept counts tickets removed by the expiration sweeper.
	TicketsSwept prometheus.Counter
	// AuthnRejected counts policy chain rejections by cause.
	AuthnRejected *prometheus.CounterVec
}

// New registers the kernel collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicketsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_tickets_issued_total",
			Help: "Number of tickets issued, by ticket type.",
		}, []string{"type"}),
		TicketsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_tickets_validated_total",
			Help: "Number of ticket validation attempts, by ticket type and outcome.",
		}, []string{"type", "outcome"}),
		TicketsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "sso_tickets_revoked_total",
			Help: "Number of tickets removed through revocation cascades.",
		}),
		TicketsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "sso_tickets_swept_total",
			Help: "Number of expired tickets removed by the sweeper.",
		}),
		AuthnRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_authn_rejected_total",
			Help: "Number of authentications rejected by the policy chain, by cause.",
		}, []string{"cause"}),
	}
}
