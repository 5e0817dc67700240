// Package metrics provides Prometheus metrics for the poster.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arxiv_poster"

var (
	// CycleTotal counts discovery and posting cycles by outcome.
	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_total",
			Help:      "Total number of scheduler cycles by outcome",
		},
		[]string{"cycle", "outcome"},
	)

	// CycleDuration measures cycle duration.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of scheduler cycles in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"cycle"},
	)

	// DiscoveredItems counts items seen by discovery, by result.
	DiscoveredItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovered_items_total",
			Help:      "Items returned by the catalog, by what discovery did with them",
		},
		[]string{"result"},
	)

	// Enrichments counts popularity lookups by result.
	Enrichments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Popularity lookups by result",
		},
		[]string{"result"},
	)

	// SnapshotSaves counts snapshot writes by status.
	SnapshotSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot writes by status",
		},
		[]string{"status"},
	)

	// QueueDepth tracks queued items.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting to be posted",
		},
	)

	// PostedTotal tracks the size of the dedup store.
	PostedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "posted_items",
			Help:      "Identifiers held in the dedup store",
		},
	)

	// PostsToday tracks the daily post counter.
	PostsToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "posts_today",
			Help:      "Successful posts in the current calendar day",
		},
	)
)

// RecordCycle records one cycle outcome and its duration.
func RecordCycle(cycle, outcome string, seconds float64) {
	CycleTotal.WithLabelValues(cycle, outcome).Inc()
	CycleDuration.WithLabelValues(cycle).Observe(seconds)
}

// RecordDiscovery adds per-item discovery counts.
func RecordDiscovery(added, refreshed, alreadyPosted, rejected, enriched, enrichFailed int) {
	DiscoveredItems.WithLabelValues("added").Add(float64(added))
	DiscoveredItems.WithLabelValues("refreshed").Add(float64(refreshed))
	DiscoveredItems.WithLabelValues("already_posted").Add(float64(alreadyPosted))
	DiscoveredItems.WithLabelValues("rejected").Add(float64(rejected))
	Enrichments.WithLabelValues("ok").Add(float64(enriched))
	Enrichments.WithLabelValues("failed").Add(float64(enrichFailed))
}

// RecordSave records a snapshot write.
func RecordSave(err error) {
	if err != nil {
		SnapshotSaves.WithLabelValues("error").Inc()
		return
	}
	SnapshotSaves.WithLabelValues("ok").Inc()
}

// SetState publishes the queue and counter gauges.
func SetState(queued, posted, postsToday int) {
	QueueDepth.Set(float64(queued))
	PostedTotal.Set(float64(posted))
	PostsToday.Set(float64(postsToday))
}
