// Package metrics registers the Prometheus collectors exported by the
// resolver under the "boq" namespace.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "boq"

// MustRegisterCounterVec creates and registers a counter vector.
func MustRegisterCounterVec(component, name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}

// MustRegisterGauge creates and registers a gauge.
func MustRegisterGauge(component, name, help string) prometheus.Gauge {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	prometheus.MustRegister(m)
	return m
}

// MustRegisterHistogramVec creates and registers a histogram vector.
func MustRegisterHistogramVec(component, name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}

// MustRegisterHistogram creates and registers a histogram.
func MustRegisterHistogram(component, name, help string, buckets []float64) prometheus.Histogram {
	m := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	prometheus.MustRegister(m)
	return m
}

// ObserveSince records the seconds elapsed since start.
func ObserveSince(o prometheus.Observer, start time.Time) {
	o.Observe(time.Since(start).Seconds())
}

// Label values.
const (
	LabelSource  = "source"
	LabelOutcome = "outcome"
	LabelStatus  = "status"
	LabelStage   = "stage"
)

// ResolutionsTotal counts resolutions by result source.
var ResolutionsTotal = MustRegisterCounterVec("engine", "resolutions_total",
	"Number of resolved queries by result source.", LabelSource)

// ClassifierChunksTotal counts classification chunks by outcome
// (provider, fallback, cached).
var ClassifierChunksTotal = MustRegisterCounterVec("classifier", "chunks_total",
	"Number of classification chunks by outcome.", LabelOutcome)

// EscalationsInFlight is the number of selector calls currently running.
var EscalationsInFlight = MustRegisterGauge("escalation", "in_flight",
	"Number of selector calls currently in flight.")

// EscalationWaitSeconds measures time spent waiting for a selector slot.
var EscalationWaitSeconds = MustRegisterHistogram("escalation", "wait_seconds",
	"Time spent waiting for a free selector slot.", prometheus.ExponentialBuckets(0.01, 2, 12))

// EscalationOutcomesTotal counts selector outcomes (selected, fallback,
// contract_violation, timeout, circuit_open).
var EscalationOutcomesTotal = MustRegisterCounterVec("escalation", "outcomes_total",
	"Number of escalations by outcome.", LabelOutcome)

// BatchItemsTotal counts batch items reaching a terminal status.
var BatchItemsTotal = MustRegisterCounterVec("batch", "items_total",
	"Number of batch items by terminal status.", LabelStatus)

// BatchStageSeconds measures per-stage item latency.
var BatchStageSeconds = MustRegisterHistogramVec("batch", "stage_seconds",
	"Per-item stage duration.", prometheus.DefBuckets, LabelStage)

// LearningWritesTotal counts learned mapping writes by outcome (ok, error).
var LearningWritesTotal = MustRegisterCounterVec("learning", "writes_total",
	"Number of learned mapping writes by outcome.", LabelOutcome)
