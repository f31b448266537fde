// Package metrics registers the Prometheus collectors exposed on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChangeEntriesWritten counts changelog entries actually inserted,
	// by kind.
	ChangeEntriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharesync_change_entries_written_total",
		Help: "Changelog entries inserted, by kind.",
	}, []string{"kind"})

	// ChangeEntriesDeduped counts redelivered events whose entry
	// already existed, absorbed by the insert-if-absent write.
	ChangeEntriesDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharesync_change_entries_deduped_total",
		Help: "Changelog inserts skipped because the entry already existed.",
	})

	// ChangeFeedReads counts sync-feed reads served.
	ChangeFeedReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharesync_change_feed_reads_total",
		Help: "Change feed requests served.",
	})

	// TogglesRejected counts rejected sharing toggles, by reason.
	TogglesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharesync_toggles_rejected_total",
		Help: "Sharing toggles rejected, by reason.",
	}, []string{"reason"})

	// CascadeStepFailures counts best-effort cascade steps that
	// failed and were skipped during group deletion or member leave.
	CascadeStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharesync_cascade_step_failures_total",
		Help: "Cascade cleanup steps that failed and were skipped.",
	}, []string{"step"})

	// ExpiredEntriesSwept counts changelog entries removed by the
	// retention sweeper.
	ExpiredEntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharesync_expired_entries_swept_total",
		Help: "Changelog entries removed past their retention window.",
	})
)
