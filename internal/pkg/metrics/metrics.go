// Package metrics defines and registers the Prometheus metrics of the voting board.
// It is the single source of truth for metric names, labels, and help strings.
//
// All metrics are registered with the default registry at package init through promauto
// and exposed on /metrics by the HTTP router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voteboard"

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionsActive tracks the number of live websocket sessions.
// Label:
//   - state: "connected" (not yet identified) or "identified"
var SessionsActive = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Current number of live websocket sessions, by handshake state.",
	},
	[]string{"state"},
)

// BroadcastDropsTotal counts outbound messages that could not be queued for a client.
// Label:
//   - type: the outbound message type (e.g. "CURSOR_UPDATE")
var BroadcastDropsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_drops_total",
		Help:      "Total number of outbound messages dropped because a client queue was full.",
	},
	[]string{"type"},
)

// InboundEventsTotal counts decoded inbound websocket events.
// Labels:
//   - type: the inbound message type
//   - result: "accepted", "dropped" (unidentified or throttled), "invalid" or "rejected" (vote not recorded)
var InboundEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Total number of inbound websocket events, by type and result.",
	},
	[]string{"type", "result"},
)

// ── Voting metrics ────────────────────────────────────────────────────────────

// VotesTotal counts vote attempts.
// Label:
//   - result: "recorded", "limit_reached", "unknown_candidate" or "store_error"
var VotesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_total",
		Help:      "Total number of vote attempts, by result.",
	},
	[]string{"result"},
)

// VoteDuration measures the durable append round trip of a vote.
var VoteDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "vote_duration_seconds",
		Help:      "Duration of the durable vote append including the returned total.",
		Buckets:   prometheus.DefBuckets,
	},
)

// ── Identity metrics ──────────────────────────────────────────────────────────

// IdentitiesCreatedTotal counts identities minted by the identity store.
var IdentitiesCreatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identities_created_total",
		Help:      "Total number of identities created.",
	},
)

// StoreErrorsTotal counts failed durable-store operations.
// Label:
//   - op: the failing operation (e.g. "save_identity", "append_vote")
var StoreErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Total number of failed durable-store operations, by operation.",
	},
	[]string{"op"},
)
