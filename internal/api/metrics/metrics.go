// Package metrics defines and registers all custom Prometheus metrics for the
// storefront gateway. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// ── Credential exchange ───────────────────────────────────────────────────────

// LoginsTotal counts login attempts.
// Labels:
//   - domain: "customer", "vendor" or "admin"
//   - result: "success", "invalid_credentials", "validation", "upstream_error", "malformed", "store_error"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of login attempts, by domain and result.",
	},
	[]string{"domain", "result"},
)

// LogoutsTotal counts logouts.
// Label:
//   - result: "revoked", "local_only" (server-side revocation failed) or "noop"
var LogoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logouts_total",
		Help:      "Total number of logouts, by domain and result.",
	},
	[]string{"domain", "result"},
)

// ── Renewal ───────────────────────────────────────────────────────────────────

// RenewalsTotal counts refresh calls issued by the renewal coordinator.
// Label:
//   - result: "success", "expired", "upstream_error", "ledger_hit"
var RenewalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renewals_total",
		Help:      "Total number of session renewals, by domain and result.",
	},
	[]string{"domain", "result"},
)

// RenewalWaitersTotal counts calls that queued behind an in-flight renewal
// instead of starting their own.
var RenewalWaitersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renewal_waiters_total",
		Help:      "Total number of calls queued behind an in-flight renewal.",
	},
	[]string{"domain"},
)

// ── Failure monitor ───────────────────────────────────────────────────────────

// SessionRedirectsTotal counts sessions lost to an authentication failure.
// Label:
//   - mode: "redirect" (navigable surface) or "propagate" (background call)
var SessionRedirectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_redirects_total",
		Help:      "Total number of sessions lost to an authentication failure.",
	},
	[]string{"domain", "mode"},
)

// ── Upstream ──────────────────────────────────────────────────────────────────

// UpstreamRequestDuration measures calls to the remote API.
// Labels:
//   - op: "login", "refresh", "logout" or "forward"
//   - code: HTTP status code, or "error" on transport failure
var UpstreamRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Duration of calls to the remote API.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"op", "code"},
)

// AuditQueueDepth tracks the number of audit events waiting in each
// dispatcher worker channel.
var AuditQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current number of session events pending in each audit worker channel.",
	},
	[]string{"worker_id"},
)

// AuditDroppedTotal counts events dropped because a worker channel was full.
var AuditDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Total number of session events dropped on a full audit queue.",
	},
)
