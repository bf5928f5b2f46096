// Package metrics exposes Prometheus collectors for the reservation path,
// the token ledger and the side-effect pipeline.
//
// Ledger append failures are the drift signal: when the balance update commits
// but the transaction row does not, LedgerAppendFailuresTotal increments and
// the audit endpoint will report a non-zero drift for that user.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationsTotal counts Reserve outcomes: created, replayed, conflict, invalid, error.
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// BookingTransitionsTotal counts status changes by target status and outcome.
	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_booking_transitions_total",
			Help: "Booking status transitions by target status and outcome",
		},
		[]string{"to", "outcome"},
	)

	// LedgerOperationsTotal counts Award/Spend calls by type and outcome.
	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_ledger_operations_total",
			Help: "Token ledger operations by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// LedgerAppendFailuresTotal counts balance updates whose ledger row could not be written.
	LedgerAppendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wellbook_ledger_append_failures_total",
			Help: "Balance updates that committed without their ledger row",
		},
	)

	// LedgerDriftDetectedTotal counts audits that found balance != ledger sum.
	LedgerDriftDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wellbook_ledger_drift_detected_total",
			Help: "Ledger audits that found a balance drift",
		},
	)

	// SideEffectsTotal counts side-effect handler runs by handler and outcome.
	SideEffectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_side_effects_total",
			Help: "Lifecycle side-effect executions by handler and outcome",
		},
		[]string{"handler", "outcome"},
	)

	// CircuitBreakerState reports breaker state per name: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wellbook_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// AvailabilityCacheTotal counts occupied-set reads by result: hit, reload, stale.
	AvailabilityCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_availability_cache_total",
			Help: "Availability index reads by result",
		},
		[]string{"result"},
	)

	// RelayReconnectsTotal counts change-feed disconnects by reason.
	RelayReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_relay_reconnects_total",
			Help: "Change feed subscriptions lost or refused, forcing a reload",
		},
		[]string{"reason"},
	)

	// RelayEventsTotal counts change events applied to the index by op.
	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellbook_relay_events_total",
			Help: "Change feed events forwarded to the availability index",
		},
		[]string{"op"},
	)
)

// Outcome labels shared across collectors.
const (
	OutcomeOK       = "ok"
	OutcomeCreated  = "created"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
