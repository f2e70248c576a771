// Package metrics holds the run's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Item outcomes.
const (
	OutcomeExported = "exported"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Tag write results.
const (
	TagOK     = "ok"
	TagFailed = "failed"
)

// Metrics are the collectors of one run, registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	Items         *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	TagWrites     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bereel",
			Name:      "items_total",
			Help:      "Planned items by kind and outcome",
		}, []string{"kind", "outcome"}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bereel",
			Name:      "decisions_total",
			Help:      "Camera role decisions by provenance",
		}, []string{"provenance"}),
		TagWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bereel",
			Name:      "tag_writes_total",
			Help:      "Metadata tag writes by result",
		}, []string{"result"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bereel",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
	}
}

// ObserveStage records time spent in stage since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile dumps every collector in the text exposition format,
// e.g. for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
