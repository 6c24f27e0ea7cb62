package bundle

import (
	"ocm.software/open-component-model/pluginhub/metrics"
)

// RequestsCounter counts bundle lookups.
// [kind, result].
var RequestsCounter = metrics.MustRegisterCounterVec(
	metrics.Namespace,
	metrics.Component,
	"bundle_requests_total",
	"Number of bundle lookups by kind and result (hit, miss).",
	"kind", "result",
)

// RegenerationsCounter counts bundle regenerations.
// [kind, outcome].
var RegenerationsCounter = metrics.MustRegisterCounterVec(
	metrics.Namespace,
	metrics.Component,
	"bundle_regenerations_total",
	"Number of bundle regenerations by kind and outcome (success, failure).",
	"kind", "outcome",
)

// RegenerationDurationHistogram tracks how long a regeneration holds the slot.
// [kind].
var RegenerationDurationHistogram = metrics.MustRegisterHistogramVec(
	metrics.Namespace,
	metrics.Component,
	"bundle_regeneration_duration_seconds",
	"Duration of bundle regenerations in seconds.",
	metrics.DurationBuckets,
	"kind",
)

// EvictionsCounter counts superseded bundle files removed from disk.
// [kind].
var EvictionsCounter = metrics.MustRegisterCounterVec(
	metrics.Namespace,
	metrics.Component,
	"bundle_evictions_total",
	"Number of superseded bundle files removed from disk.",
	"kind",
)
