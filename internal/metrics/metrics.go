// Package metrics holds the Prometheus collectors for the authorization engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Decisions by outcome: proceed, verification_failed, command_disabled, error.
	Decisions *prometheus.CounterVec

	// Enforcement results by action kind and outcome.
	Enforcements *prometheus.CounterVec

	// Retries of enforcement calls by action kind.
	EnforcementRetries *prometheus.CounterVec

	// Tickets cancelled because a newer action for the same actor started.
	TicketsSuperseded prometheus.Counter

	// Commands executed, by command name.
	Commands *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry, which keeps
// tests and duplicate constructions from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Authorization decisions by outcome.",
		}, []string{"command", "outcome"}),

		Enforcements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_enforcements_total",
			Help: "Enforcement actions by kind and outcome.",
		}, []string{"kind", "outcome"}),

		EnforcementRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_enforcement_retries_total",
			Help: "Retried enforcement attempts by kind.",
		}, []string{"kind"}),

		TicketsSuperseded: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_tickets_superseded_total",
			Help: "Pending actions cancelled by a newer action for the same actor.",
		}),

		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_commands_total",
			Help: "Executed commands by name.",
		}, []string{"command"}),
	}
}

func (m *Metrics) Decision(command, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) Enforcement(kind, outcome string) {
	if m == nil {
		return
	}
	m.Enforcements.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) EnforcementRetry(kind string) {
	if m == nil {
		return
	}
	m.EnforcementRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) Superseded() {
	if m == nil {
		return
	}
	m.TicketsSuperseded.Inc()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}
