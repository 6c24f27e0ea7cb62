package workerpool

import (
	"ocm.software/open-component-model/pluginhub/metrics"
)

const (
	// QueueSizeGaugeLabel tracks the current size of the work queue.
	QueueSizeGaugeLabel = "io_queue_size"
	// InProgressGaugeLabel tracks the number of work items currently being processed.
	InProgressGaugeLabel = "io_in_progress"
	// TaskDurationHistogramLabel tracks the duration of work items.
	TaskDurationHistogramLabel = "io_task_duration_seconds"
)

// QueueSizeGauge tracks the current size of the work queue.
var QueueSizeGauge = metrics.MustRegisterGauge(
	metrics.Namespace,
	metrics.Component,
	QueueSizeGaugeLabel,
	"Current size of the blocking I/O work queue.",
)

// InProgressGauge tracks the number of work items currently being processed.
var InProgressGauge = metrics.MustRegisterGauge(
	metrics.Namespace,
	metrics.Component,
	InProgressGaugeLabel,
	"Number of blocking I/O work items currently in progress.",
)

// TaskDurationHistogram tracks the duration of work items.
// [task].
var TaskDurationHistogram = metrics.MustRegisterHistogramVec(
	metrics.Namespace,
	metrics.Component,
	TaskDurationHistogramLabel,
	"Duration of blocking I/O work items in seconds.",
	metrics.DurationBuckets,
	"task",
)
