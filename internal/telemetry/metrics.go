// Package telemetry holds the Prometheus collectors shared by the API, the
// worker and the CLI.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Submissions ─────────────────────────────────────────────────────────────

	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "reconciler",
		Name:      "tasks_submitted_total",
		Help:      "Generation tasks submitted, labelled by provider, media type and outcome.",
	}, []string{"provider", "media_type", "outcome"})

	// ─── Reconciliation ──────────────────────────────────────────────────────────

	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "reconciler",
		Name:      "reconcile_total",
		Help:      "Reconciliation attempts by source (query, webhook, expiry) and outcome.",
	}, []string{"source", "outcome"})

	TasksSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "reconciler",
		Name:      "tasks_settled_total",
		Help:      "Tasks that reached a terminal status, labelled by provider and status.",
	}, []string{"provider", "status"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Sweep runs by outcome.",
	}, []string{"outcome"})

	SweepTasks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "genflow",
		Subsystem: "sweeper",
		Name:      "tasks_per_run",
		Help:      "Active tasks visited per sweep run.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})

	// ─── Providers ───────────────────────────────────────────────────────────────

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Provider HTTP calls by provider, operation and result class.",
	}, []string{"provider", "op", "result"})

	ProviderLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "genflow",
		Subsystem: "provider",
		Name:      "call_duration_seconds",
		Help:      "Provider call latency including retries.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider", "op"})

	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "provider",
		Name:      "retries_total",
		Help:      "Provider call retry attempts.",
	}, []string{"provider", "op"})

	UnknownStatuses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Name:      "provider_unknown_status_total",
		Help:      "Vendor status strings that did not map to a known task status.",
	}, []string{"provider"})

	// ─── Ledger ──────────────────────────────────────────────────────────────────

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Ledger entries written, labelled by kind.",
	}, []string{"kind"})

	LedgerCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genflow",
		Subsystem: "ledger",
		Name:      "credits_total",
		Help:      "Absolute credits moved, labelled by kind.",
	}, []string{"kind"})
)
