// Package batch runs batch jobs: every item moves through
// queued → parsed → split → retrieved → ranked → done | needs_review | error,
// with its progress checkpointed in the store after each stage so a paused
// or interrupted job resumes where it stopped.
package batch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/classify"
	"github.com/sells-group/boq-resolver/internal/engine"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/store"
)

// ErrEmptyBatch is returned by Create when no rows are given.
var ErrEmptyBatch = eris.New("batch: no items")

// ErrTooManyItems is returned by Create when rows exceed Config.MaxItems.
var ErrTooManyItems = eris.New("batch: too many items")

// Config holds orchestrator defaults.
type Config struct {
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxItems      int `yaml:"max_items" mapstructure:"max_items"`
}

// DefaultConcurrency is the number of items processed at once.
const DefaultConcurrency = 3

// Progress is a point-in-time view of a job.
type Progress struct {
	JobID   string          `json:"job_id"`
	Status  model.JobStatus `json:"status"`
	Counts  model.JobCounts `json:"counts"`
	Flags   model.JobFlags  `json:"flags"`
	Percent float64         `json:"percent"`
	Running bool            `json:"running"`
}

// Result is the outcome of one item.
type Result struct {
	ItemID   string            `json:"item_id"`
	Seq      int               `json:"seq"`
	Raw      string            `json:"raw"`
	Category string            `json:"category,omitempty"`
	Shape    model.Shape       `json:"shape,omitempty"`
	Status   model.ItemStatus  `json:"status"`
	Result   *model.ItemResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// run is one background pass over a job.
type run struct {
	paused atomic.Bool
	done   chan struct{}
	rerun  bool // guarded by Orchestrator.mu
}

// Orchestrator schedules batch jobs over a bounded worker pool.
type Orchestrator struct {
	store      store.Store
	engine     *engine.Engine
	classifier *classify.Classifier
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// New creates an Orchestrator. Call Shutdown to stop running jobs.
func New(st store.Store, eng *engine.Engine, cl *classify.Classifier, cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      st,
		engine:     eng,
		classifier: cl,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[string]*run),
	}
}

// Create stores a new job with one queued item per row. Zero settings take
// the orchestrator defaults.
func (o *Orchestrator) Create(ctx context.Context, rows []string, settings model.JobSettings, cctx model.ContextDescriptor) (*model.BatchJob, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}
	if o.cfg.MaxItems > 0 && len(rows) > o.cfg.MaxItems {
		return nil, eris.Wrapf(ErrTooManyItems, "%d rows, limit %d", len(rows), o.cfg.MaxItems)
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = o.cfg.Concurrency
	}
	if settings.MaxCandidates <= 0 {
		settings.MaxCandidates = o.cfg.MaxCandidates
	}

	job := model.BatchJob{ID: uuid.New().String(), Settings: settings, Context: cctx}
	items := make([]model.BatchItem, len(rows))
	for i, raw := range rows {
		items[i] = model.BatchItem{ID: uuid.New().String(), JobID: job.ID, Seq: i, Raw: raw, Status: model.ItemQueued}
	}
	created, err := o.store.CreateJob(ctx, job, items)
	if err != nil {
		return nil, eris.Wrap(err, "batch: create job")
	}
	zap.L().Info("batch: job created",
		zap.String("job_id", created.ID),
		zap.Int("items", len(items)),
		zap.Int("concurrency", settings.Concurrency),
	)
	return created, nil
}

// Start begins processing a job in the background. Starting a job that is
// already running is a no-op; starting a paused job resumes it.
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "batch: start %s", jobID)
	}
	if err := o.store.MarkJobStarted(ctx, jobID); err != nil {
		return eris.Wrapf(err, "batch: start %s", jobID)
	}
	if job.Paused {
		if err := o.store.SetJobPaused(ctx, jobID, false); err != nil {
			return eris.Wrapf(err, "batch: unpause %s", jobID)
		}
	}

	for {
		o.mu.Lock()
		prev, ok := o.runs[jobID]
		if !ok {
			o.launch(jobID)
			o.mu.Unlock()
			return nil
		}
		if !prev.paused.Load() {
			o.mu.Unlock()
			return nil
		}
		o.mu.Unlock()

		// A paused run is still draining; let it stop first.
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// launch starts a run. The caller holds o.mu.
func (o *Orchestrator) launch(jobID string) {
	r := &run{done: make(chan struct{})}
	o.runs[jobID] = r
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		for {
			o.execute(o.ctx, jobID, r)

			o.mu.Lock()
			if r.rerun && !r.paused.Load() && o.ctx.Err() == nil {
				r.rerun = false
				o.mu.Unlock()
				continue
			}
			delete(o.runs, jobID)
			o.mu.Unlock()
			return
		}
	}()
}

// Pause stops scheduling new items. In-flight items stop at their next
// stage boundary.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) error {
	if err := o.store.SetJobPaused(ctx, jobID, true); err != nil {
		return eris.Wrapf(err, "batch: pause %s", jobID)
	}
	o.mu.Lock()
	if r, ok := o.runs[jobID]; ok {
		r.paused.Store(true)
	}
	o.mu.Unlock()
	zap.L().Info("batch: job paused", zap.String("job_id", jobID))
	return nil
}

// Resume continues a paused job from its first unfinished item. A resume
// that races a still-draining run waits for that run first.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	if err := o.Start(ctx, jobID); err != nil {
		return err
	}
	zap.L().Info("batch: job resumed", zap.String("job_id", jobID))
	return nil
}

// Wait blocks until the job's current run stops, either because every item
// is terminal or because the job was paused.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	r, ok := o.runs[jobID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports a job's progress.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Progress, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: status %s", jobID)
	}
	o.mu.Lock()
	r, running := o.runs[jobID]
	o.mu.Unlock()

	p := &Progress{
		JobID:   job.ID,
		Status:  job.Status,
		Counts:  job.Counts,
		Flags:   job.Flags,
		Running: running && !r.paused.Load(),
	}
	if job.Counts.Total > 0 {
		p.Percent = float64(job.Counts.Terminal()) / float64(job.Counts.Total) * 100
	}
	return p, nil
}

// Results returns every item of a job in submission order, finished or not.
func (o *Orchestrator) Results(ctx context.Context, jobID string) ([]Result, error) {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return nil, eris.Wrapf(err, "batch: results %s", jobID)
	}
	items, err := o.store.ListItems(ctx, jobID, store.ItemFilter{})
	if err != nil {
		return nil, eris.Wrapf(err, "batch: results %s", jobID)
	}
	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = Result{
			ItemID:   it.ID,
			Seq:      it.Seq,
			Raw:      it.Raw,
			Category: it.Category,
			Shape:    it.Shape,
			Status:   it.Status,
			Result:   it.Result,
			Error:    it.Error,
		}
	}
	return out, nil
}

// RetryItem moves a failed item back to queued. Unless the job is paused
// the job is started again to pick it up.
func (o *Orchestrator) RetryItem(ctx context.Context, jobID, itemID string) (*model.BatchItem, error) {
	it, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: retry %s", itemID)
	}
	if it.JobID != jobID {
		return nil, eris.Wrapf(store.ErrNotFound, "item %s in job %s", itemID, jobID)
	}
	it, err = o.store.RetryItem(ctx, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: retry %s", itemID)
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: retry %s", itemID)
	}
	if !job.Started || job.Paused {
		return it, nil
	}

	o.mu.Lock()
	if r, ok := o.runs[jobID]; ok && !r.paused.Load() {
		r.rerun = true
		o.mu.Unlock()
		return it, nil
	}
	o.mu.Unlock()
	if err := o.Start(ctx, jobID); err != nil {
		return nil, err
	}
	return it, nil
}

// Shutdown cancels running jobs and waits for their workers. Items keep
// their last checkpoint.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}
