// Package metrics defines the Prometheus instruments for the ledger service.
// All metrics are served on /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts log entries successfully dispatched, by type.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_processed_total",
		Help: "Log entries successfully dispatched, by event type.",
	}, []string{"type"})

	// EventsDropped counts entries acknowledged without effect: unknown type,
	// malformed payload, or missing required identifiers.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_dropped_total",
		Help: "Log entries acknowledged and dropped, by reason.",
	}, []string{"reason"})

	// DispatchFailures counts entries left pending for redelivery after a
	// handler error.
	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_dispatch_failures_total",
		Help: "Entries left un-acknowledged after a handler error.",
	})

	// ZeroPricedEvents counts cost events recorded with no pricing entry.
	// A rising value means the ledger is silently undercounting.
	ZeroPricedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_zero_priced_events_total",
		Help: "Cost events recorded at price 0 because the pricing key was missing.",
	})

	// DuplicateEvents counts redelivered log entries skipped by the
	// source-entry-id uniqueness check.
	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_duplicate_events_total",
		Help: "Redelivered log entries skipped by idempotency.",
	})

	// EntriesReclaimed counts pending entries claimed from crashed consumers.
	EntriesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_entries_reclaimed_total",
		Help: "Stale pending entries claimed and reprocessed.",
	})

	// AlertsFired counts budget alerts, by scope and level.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_budget_alerts_fired_total",
		Help: "Budget alerts fired on rising threshold edges.",
	}, []string{"scope", "level"})
)
