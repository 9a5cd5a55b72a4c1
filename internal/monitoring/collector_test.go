package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/resilience"
	"github.com/sells-group/boq-resolver/internal/store"
)

// fakeJobs implements JobLister for testing.
type fakeJobs struct {
	jobs    []model.BatchJob
	listErr error
}

func (f *fakeJobs) ListJobs(_ context.Context, filter store.JobFilter) ([]model.BatchJob, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if filter.Limit > 0 && len(f.jobs) > filter.Limit {
		return f.jobs[:filter.Limit], nil
	}
	return f.jobs, nil
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func job(status model.JobStatus, age time.Duration, counts model.JobCounts) model.BatchJob {
	return model.BatchJob{
		ID:        string(status) + age.String(),
		Status:    status,
		Counts:    counts,
		CreatedAt: fixedNow.Add(-age),
	}
}

func TestCollector_Collect(t *testing.T) {
	jobs := &fakeJobs{jobs: []model.BatchJob{
		job(model.JobCompleted, time.Hour, model.JobCounts{Total: 10, Processed: 8, Errors: 2, NeedsReview: 3, Fallbacks: 1, CostUSD: 0.5}),
		job(model.JobRunning, 2*time.Hour, model.JobCounts{Total: 20, Processed: 5, Errors: 0, Fallbacks: 4, Pending: 15, CostUSD: 0.25}),
		job(model.JobPaused, 3*time.Hour, model.JobCounts{Total: 5, Pending: 5}),
		// Outside the window.
		job(model.JobCompleted, 48*time.Hour, model.JobCounts{Total: 100, Errors: 100}),
	}}

	c := NewCollector(jobs, nil)
	c.nowFunc = func() time.Time { return fixedNow }

	snap, err := c.Collect(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsCompleted)
	assert.Equal(t, 1, snap.JobsRunning)
	assert.Equal(t, 1, snap.JobsPaused)
	assert.Equal(t, 35, snap.ItemsTotal)
	assert.Equal(t, 15, snap.ItemsTerminal)
	assert.Equal(t, 2, snap.ItemErrors)
	assert.Equal(t, 3, snap.ItemNeedsReview)
	assert.Equal(t, 5, snap.ItemFallbacks)
	assert.InDelta(t, 2.0/15, snap.ItemErrorRate, 1e-9)
	assert.InDelta(t, 5.0/15, snap.ItemFallbackRate, 1e-9)
	assert.InDelta(t, 0.75, snap.CostUSD, 1e-9)
	assert.Empty(t, snap.SelectorCircuit)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_NoTerminalItems(t *testing.T) {
	c := NewCollector(&fakeJobs{jobs: []model.BatchJob{
		job(model.JobPending, time.Minute, model.JobCounts{Total: 4, Pending: 4}),
	}}, nil)
	c.nowFunc = func() time.Time { return fixedNow }

	snap, err := c.Collect(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, snap.ItemErrorRate)
	assert.Zero(t, snap.ItemFallbackRate)
}

func TestCollector_BreakerState(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.FromCircuitConfig("selector", 1, time.Minute))
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })

	c := NewCollector(&fakeJobs{}, cb)
	snap, err := c.Collect(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "open", snap.SelectorCircuit)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&fakeJobs{listErr: errors.New("db down")}, nil)
	_, err := c.Collect(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list jobs")
}
