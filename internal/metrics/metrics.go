// Package metrics exposes Prometheus counters for source resolution,
// mutations, and snapshot persistence.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the fira collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ResolutionsTotal  *prometheus.CounterVec
	ResolutionSeconds prometheus.Histogram
	RefreshesDeduped  prometheus.Counter
	MutationsTotal    *prometheus.CounterVec
	SnapshotsTotal    *prometheus.CounterVec
	WatchEventsTotal  prometheus.Counter
	ProjectsLoaded    prometheus.Gauge
	TasksLoaded       prometheus.Gauge
}

// New creates the collectors and registers them with reg. Passing nil
// uses the default registerer.
//
// Metrics:
//   - fira_resolutions_total{mode} - resolutions by winning mode
//   - fira_resolution_duration_seconds - time spent resolving
//   - fira_refreshes_deduplicated_total - refresh calls joined to a running one
//   - fira_mutations_total{op,mode,outcome} - mutations by outcome (ok, partial, error)
//   - fira_snapshots_total{target} - snapshot saves by target
//   - fira_watch_events_total - debounced directory change batches
//   - fira_projects_loaded / fira_tasks_loaded - size of the active dataset
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ResolutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fira_resolutions_total",
				Help: "Total number of data source resolutions by resulting mode",
			},
			[]string{"mode"},
		),
		ResolutionSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fira_resolution_duration_seconds",
				Help:    "Duration of data source resolution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		RefreshesDeduped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fira_refreshes_deduplicated_total",
				Help: "Refresh calls that joined a resolution already in flight",
			},
		),
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fira_mutations_total",
				Help: "Total number of mutations by operation, mode and outcome",
			},
			[]string{"op", "mode", "outcome"},
		),
		SnapshotsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fira_snapshots_total",
				Help: "Total number of snapshot saves by target",
			},
			[]string{"target"},
		),
		WatchEventsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fira_watch_events_total",
				Help: "Debounced batches of directory change events",
			},
		),
		ProjectsLoaded: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fira_projects_loaded",
				Help: "Projects in the active dataset",
			},
		),
		TasksLoaded: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fira_tasks_loaded",
				Help: "Tasks in the active dataset",
			},
		),
	}
}

// Mutation outcomes.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// RecordResolution records a finished resolution.
func (m *Metrics) RecordResolution(mode string, seconds float64, projects, tasks int) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(mode).Inc()
	m.ResolutionSeconds.Observe(seconds)
	m.SetDatasetSize(projects, tasks)
}

// SetDatasetSize updates the dataset gauges.
func (m *Metrics) SetDatasetSize(projects, tasks int) {
	if m == nil {
		return
	}
	m.ProjectsLoaded.Set(float64(projects))
	m.TasksLoaded.Set(float64(tasks))
}

// RecordRefreshDeduped records a refresh that joined a running resolution.
func (m *Metrics) RecordRefreshDeduped() {
	if m == nil {
		return
	}
	m.RefreshesDeduped.Inc()
}

// RecordMutation records one mutation outcome.
func (m *Metrics) RecordMutation(op, mode, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, mode, outcome).Inc()
}

// RecordSnapshot records a snapshot save.
func (m *Metrics) RecordSnapshot(target string) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(target).Inc()
}

// RecordWatchEvent records one debounced batch of file changes.
func (m *Metrics) RecordWatchEvent() {
	if m == nil {
		return
	}
	m.WatchEventsTotal.Inc()
}
