// Package monitoring watches recent batch jobs and the selector circuit and
// posts alerts to a webhook when resolution quality degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/resilience"
	"github.com/sells-group/boq-resolver/internal/store"
)

// Config holds alert thresholds and the webhook target.
type Config struct {
	WebhookURL            string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval         time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackWindow        time.Duration `yaml:"lookback_window" mapstructure:"lookback_window"`
	MinItems              int           `yaml:"min_items" mapstructure:"min_items"`
	ErrorRateThreshold    float64       `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	FallbackRateThreshold float64       `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	CostThresholdUSD      float64       `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// MetricsSnapshot holds a point-in-time view of resolution health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal     int `json:"jobs_total"`
	JobsCompleted int `json:"jobs_completed"`
	JobsRunning   int `json:"jobs_running"`
	JobsPaused    int `json:"jobs_paused"`

	// Items of those jobs.
	ItemsTotal       int     `json:"items_total"`
	ItemsTerminal    int     `json:"items_terminal"`
	ItemErrors       int     `json:"item_errors"`
	ItemNeedsReview  int     `json:"item_needs_review"`
	ItemFallbacks    int     `json:"item_fallbacks"`
	ItemErrorRate    float64 `json:"item_error_rate"`
	ItemFallbackRate float64 `json:"item_fallback_rate"`
	CostUSD          float64 `json:"cost_usd"`

	// Selector circuit state; empty when unknown.
	SelectorCircuit string `json:"selector_circuit,omitempty"`

	// Metadata.
	Lookback    time.Duration `json:"lookback"`
	CollectedAt time.Time     `json:"collected_at"`
}

// JobLister is the part of store.Store the collector reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.BatchJob, error)
}

// Collector gathers a snapshot from the job store and the selector breaker.
type Collector struct {
	jobs    JobLister
	breaker *resilience.CircuitBreaker
	nowFunc func() time.Time
}

// NewCollector creates a collector. A nil breaker leaves SelectorCircuit
// empty.
func NewCollector(jobs JobLister, breaker *resilience.CircuitBreaker) *Collector {
	return &Collector{jobs: jobs, breaker: breaker, nowFunc: time.Now}
}

// maxJobs bounds how many recent jobs one collection reads.
const maxJobs = 1000

// Collect gathers a snapshot over jobs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{Lookback: lookback, CollectedAt: now}
	cutoff := now.Add(-lookback)

	jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{Limit: maxJobs})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobCompleted:
			snap.JobsCompleted++
		case model.JobRunning:
			snap.JobsRunning++
		case model.JobPaused:
			snap.JobsPaused++
		}
		snap.ItemsTotal += j.Counts.Total
		snap.ItemsTerminal += j.Counts.Terminal()
		snap.ItemErrors += j.Counts.Errors
		snap.ItemNeedsReview += j.Counts.NeedsReview
		snap.ItemFallbacks += j.Counts.Fallbacks
		snap.CostUSD += j.Counts.CostUSD
	}

	if snap.ItemsTerminal > 0 {
		snap.ItemErrorRate = float64(snap.ItemErrors) / float64(snap.ItemsTerminal)
		snap.ItemFallbackRate = float64(snap.ItemFallbacks) / float64(snap.ItemsTerminal)
	}
	if c.breaker != nil {
		snap.SelectorCircuit = c.breaker.State().String()
	}
	return snap, nil
}
