package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boq-resolver/internal/batch"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/provider"
)

func TestRunJob_Completes(t *testing.T) {
	env := newTestEnv(t, provider.Disabled{})
	ctx := context.Background()

	job, err := env.Batch.Create(ctx, []string{
		"Beton základových pásů C25/30",
		"Zdivo z cihel plných tl. 300 mm",
		"Bednění základových pásů",
	}, model.JobSettings{Concurrency: 2}, model.ContextDescriptor{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runJob(ctx, env, job.ID, false, &buf))

	out := buf.String()
	assert.Contains(t, out, job.ID)
	assert.Contains(t, out, string(model.JobCompleted))
	assert.Contains(t, out, "3/3")
}

func TestRunJob_UnknownJob(t *testing.T) {
	env := newTestEnv(t, provider.Disabled{})

	var buf bytes.Buffer
	err := runJob(context.Background(), env, "missing", false, &buf)
	require.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestWatchPause_PausedInStore(t *testing.T) {
	env := newTestEnv(t, provider.Disabled{})
	ctx := context.Background()

	job, err := env.Batch.Create(ctx, []string{"Bednění"}, model.JobSettings{}, model.ContextDescriptor{})
	require.NoError(t, err)
	require.NoError(t, env.Store.SetJobPaused(ctx, job.ID, true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchPause(ctx, env.Store, env.Batch, job.ID, 5*time.Millisecond)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watchPause did not return for a paused job")
	}
}

func TestWatchPause_CompletedJob(t *testing.T) {
	env := newTestEnv(t, provider.Disabled{})
	ctx := context.Background()

	job, err := env.Batch.Create(ctx, []string{"Zdivo z cihel plných tl. 300 mm"}, model.JobSettings{}, model.ContextDescriptor{})
	require.NoError(t, err)
	require.NoError(t, env.Batch.Start(ctx, job.ID))
	require.NoError(t, env.Batch.Wait(ctx, job.ID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchPause(ctx, env.Store, env.Batch, job.ID, 5*time.Millisecond)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watchPause did not return for a completed job")
	}
}

func TestWatchPause_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, provider.Disabled{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchPause(ctx, env.Store, env.Batch, "missing", 5*time.Millisecond)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watchPause did not stop on cancel")
	}
}

func TestFormatProgress(t *testing.T) {
	var buf bytes.Buffer
	formatProgress(&buf, &batch.Progress{
		JobID:   "job-1",
		Status:  model.JobRunning,
		Counts:  model.JobCounts{Total: 4, Processed: 2, NeedsReview: 1, Errors: 1, Fallbacks: 1, CostUSD: 0.02},
		Percent: 100,
	})
	out := buf.String()

	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "3/4")
	assert.Contains(t, out, "$0.0200")
}

func TestFormatResults(t *testing.T) {
	var buf bytes.Buffer
	formatResults(&buf, []batch.Result{
		{
			Seq:      0,
			Raw:      "Beton C25/30 + bednění",
			Category: "concrete",
			Status:   model.ItemDone,
			Result: &model.ItemResult{Resolutions: []model.Resolution{
				{Code: "801321111", Source: model.SourceLocal},
				{Source: model.SourceNone},
			}},
		},
		{Seq: 1, Raw: "???", Status: model.ItemError, Error: "boom"},
	})
	out := buf.String()

	assert.Contains(t, out, "801321111,-")
	assert.Contains(t, out, "local,none")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "concrete")
}

func TestFormatJobs(t *testing.T) {
	var buf bytes.Buffer
	formatJobs(&buf, []model.BatchJob{{
		ID:        "job-1",
		Status:    model.JobPaused,
		Counts:    model.JobCounts{Total: 10, Processed: 3},
		CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}})
	out := buf.String()

	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "2026-03-01 09:30")
}

func TestSummarize(t *testing.T) {
	codes, sources := summarize(nil)
	assert.Equal(t, "-", codes)
	assert.Equal(t, "-", sources)

	codes, sources = summarize([]model.Resolution{
		{Code: "A", Source: model.SourceCache},
		{Code: "B", Source: model.SourceEscalated},
	})
	assert.Equal(t, "A,B", codes)
	assert.Equal(t, "cache,escalated", sources)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Betó…", truncate("Betónování", 5))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"items": 3}))
	assert.Contains(t, buf.String(), "\"items\": 3")
}
