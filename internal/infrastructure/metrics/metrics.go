// Package metrics declares the Prometheus collectors for matching and settlement.
// Collectors register with the default registry; the API serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Matching ───────────────────────────────────────────────────────────────

// ReconciliationRuns counts passes by final status.
var ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "matching",
	Name:      "runs_total",
	Help:      "Total reconciliation passes by final status.",
}, []string{"status"})

// PaymentsProcessed counts payments seen by a pass, by outcome (matched, unmatched, skipped, errored).
var PaymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "matching",
	Name:      "payments_total",
	Help:      "Payments handled by reconciliation passes by outcome.",
}, []string{"outcome"})

// SuggestionsCreated counts persisted PENDING suggestions.
var SuggestionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "matching",
	Name:      "suggestions_created_total",
	Help:      "Total suggestions created.",
})

// UnresolvedMatches counts proposals naming an invoice outside the candidate set.
var UnresolvedMatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "matching",
	Name:      "unresolved_matches_total",
	Help:      "Matcher proposals discarded because the invoice number did not resolve.",
})

// MatcherLatency tracks matcher call latency.
var MatcherLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "reconciler",
	Subsystem: "matcher",
	Name:      "call_duration_seconds",
	Help:      "AI matcher call latency in seconds by result.",
	Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
}, []string{"result"})

// ─── Settlement ─────────────────────────────────────────────────────────────

// SuggestionTransitions counts confirm/reject attempts by action and result.
var SuggestionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "settlement",
	Name:      "transitions_total",
	Help:      "Suggestion confirm/reject attempts by action and result.",
}, []string{"action", "result"})

// SettlementConflicts counts optimistic version clashes that forced a retry.
var SettlementConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "settlement",
	Name:      "conflicts_total",
	Help:      "Settlement attempts retried after a concurrent modification.",
})

// BulkConfirmItems counts per-id bulk confirm outcomes.
var BulkConfirmItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "settlement",
	Name:      "bulk_items_total",
	Help:      "Bulk confirm items by result.",
}, []string{"result"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reconciler",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"route", "method", "status"})

// HTTPDuration tracks API latency by route pattern.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "reconciler",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "method"})

// Result labels a counter by error presence.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
