// Package metrics exposes Prometheus instruments for the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names.
const (
	MetricEventsAppended      = "traceledger_audit_events_appended_total"
	MetricAppendFailures      = "traceledger_audit_append_failures_total"
	MetricAppendDuration      = "traceledger_audit_append_duration_seconds"
	MetricEventsVerified      = "traceledger_integrity_events_verified_total"
	MetricIntegrityFindings   = "traceledger_integrity_findings_total"
	MetricLastRunFindings     = "traceledger_integrity_last_run_findings"
	MetricTraversalsTruncated = "traceledger_traversals_truncated_total"
	MetricCustodyRejections   = "traceledger_custody_rejections_total"
	MetricLineageRegressions  = "traceledger_lineage_stage_regressions_total"
	MetricSnapshotsCreated    = "traceledger_snapshots_created_total"
	MetricHTTPRequests        = "traceledger_http_requests_total"
)

// Metrics holds every ledger instrument. All operations are safe for
// concurrent use.
type Metrics struct {
	// EventsAppended counts committed audit events by action.
	EventsAppended *prometheus.CounterVec

	// AppendFailures counts rejected or failed appends by error code.
	AppendFailures *prometheus.CounterVec

	// AppendDuration observes the serialized append critical section.
	AppendDuration prometheus.Histogram

	// EventsVerified counts events checked by the integrity verifier.
	EventsVerified prometheus.Counter

	// IntegrityFindings counts integrity findings by reason.
	IntegrityFindings *prometheus.CounterVec

	// LastRunFindings is the number of findings in the most recent run.
	LastRunFindings prometheus.Gauge

	// TraversalsTruncated counts partial traversal results by kind and reason.
	TraversalsTruncated *prometheus.CounterVec

	// CustodyRejections counts custody events rejected by reason.
	CustodyRejections *prometheus.CounterVec

	// LineageRegressions counts recorded transformations that move data to
	// a lower stage.
	LineageRegressions prometheus.Counter

	// SnapshotsCreated counts stored snapshot versions by trigger.
	SnapshotsCreated *prometheus.CounterVec

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates all instruments on reg. A nil reg gets a private
// registry that is never scraped, so callers that do not care about metrics
// can pass nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsAppended,
			Help: "Total number of audit events committed to the hash chain.",
		}, []string{"action"}),

		AppendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAppendFailures,
			Help: "Total number of audit appends that were rejected or failed.",
		}, []string{"code"}),

		AppendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricAppendDuration,
			Help:    "Latency of the serialized audit append section.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		EventsVerified: f.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsVerified,
			Help: "Total number of audit events checked by the integrity verifier.",
		}),

		IntegrityFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIntegrityFindings,
			Help: "Total number of integrity findings by reason.",
		}, []string{"reason"}),

		LastRunFindings: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastRunFindings,
			Help: "Number of integrity findings in the most recent verification run.",
		}),

		TraversalsTruncated: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTraversalsTruncated,
			Help: "Total number of traversals that returned a partial result.",
		}, []string{"kind", "reason"}),

		CustodyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCustodyRejections,
			Help: "Total number of custody events rejected.",
		}, []string{"reason"}),

		LineageRegressions: f.NewCounter(prometheus.CounterOpts{
			Name: MetricLineageRegressions,
			Help: "Total number of lineage transformations recorded with a stage regression.",
		}),

		SnapshotsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSnapshotsCreated,
			Help: "Total number of entity snapshots stored.",
		}, []string{"trigger"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequests,
			Help: "Total number of query API requests.",
		}, []string{"method", "route", "status"}),
	}
}
