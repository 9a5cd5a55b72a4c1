package batch

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/boq-resolver/internal/classify"
	"github.com/sells-group/boq-resolver/internal/engine"
	"github.com/sells-group/boq-resolver/internal/metrics"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
	"github.com/sells-group/boq-resolver/internal/resilience"
	"github.com/sells-group/boq-resolver/internal/resolver"
	"github.com/sells-group/boq-resolver/internal/store"
)

var unfinished = []model.ItemStatus{
	model.ItemQueued,
	model.ItemParsed,
	model.ItemSplit,
	model.ItemRetrieved,
	model.ItemRanked,
}

// execute drives every unfinished item of a job to a terminal state, or
// until the run is paused or the orchestrator shuts down. Items are picked
// up in passes so items retried mid-run are not missed; an item is tried at
// most once per execute.
func (o *Orchestrator) execute(ctx context.Context, jobID string, r *run) {
	log := zap.L().With(zap.String("job_id", jobID))
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error("batch: load job", zap.Error(err))
		return
	}
	// The run is registered before this read, so a Pause that reached the
	// store before registration is seen here and one after it sets r.paused.
	if job.Paused {
		r.paused.Store(true)
	}
	log.Info("batch: run started", zap.Int("pending", job.Counts.Pending))
	start := time.Now()

	tried := make(map[string]bool)
	for !r.paused.Load() && ctx.Err() == nil {
		items, err := o.store.ListItems(ctx, jobID, store.ItemFilter{Statuses: unfinished})
		if err != nil {
			log.Error("batch: list items", zap.Error(err))
			return
		}
		var fresh []model.BatchItem
		for _, it := range items {
			if !tried[it.ID] {
				tried[it.ID] = true
				fresh = append(fresh, it)
			}
		}
		if len(fresh) == 0 {
			if len(items) > 0 {
				log.Warn("batch: items left unfinished", zap.Int("items", len(items)))
			}
			break
		}

		fresh = o.parse(ctx, job, fresh, r)
		o.work(ctx, job, fresh, r)
	}

	counts, err := o.store.JobCounts(context.WithoutCancel(ctx), jobID)
	if err != nil {
		log.Warn("batch: count items", zap.Error(err))
	}
	log.Info("batch: run stopped",
		zap.Bool("paused", r.paused.Load()),
		zap.Int("processed", counts.Processed),
		zap.Int("errors", counts.Errors),
		zap.Int("pending", counts.Pending),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// parse classifies the queued items and checkpoints them as parsed.
func (o *Orchestrator) parse(ctx context.Context, job *model.BatchJob, items []model.BatchItem, r *run) []model.BatchItem {
	var rows []classify.Row
	for i, it := range items {
		if it.Status == model.ItemQueued {
			rows = append(rows, classify.Row{Index: i, Raw: it.Raw})
		}
	}
	if len(rows) == 0 || r.paused.Load() {
		return items
	}

	start := time.Now()
	for _, b := range o.classifier.Classify(ctx, rows, job.Context) {
		for _, row := range b.Rows {
			it := &items[row.Index]
			it.Category = b.Category
			it.Text = row.Text
			it.Language = row.Language
			it.Result = classified(b.Fallback, row.CostUSD)
			it.Status = model.ItemParsed
			if err := o.store.SaveItem(ctx, *it); err != nil {
				if ctx.Err() != nil {
					it.Status = model.ItemQueued
					continue
				}
				o.fail(ctx, it, err)
			}
		}
	}
	metrics.ObserveSince(metrics.BatchStageSeconds.WithLabelValues(string(model.ItemParsed)), start)
	return items
}

// work runs the remaining stages of each item on a bounded pool. Scheduling
// stops as soon as the run is paused.
func (o *Orchestrator) work(ctx context.Context, job *model.BatchJob, items []model.BatchItem, r *run) {
	limit := job.Settings.Concurrency
	if limit <= 0 {
		limit = o.cfg.Concurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, it := range items {
		if it.Status == model.ItemQueued || it.Status.IsTerminal() {
			continue
		}
		if r.paused.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o.process(ctx, job, it, r)
			return nil
		})
	}
	_ = g.Wait()
}

// process advances one item stage by stage, checkpointing after each. Any
// error or panic marks the item as failed; siblings are unaffected.
func (o *Orchestrator) process(ctx context.Context, job *model.BatchJob, it model.BatchItem, r *run) {
	defer func() {
		if p := recover(); p != nil {
			o.fail(ctx, &it, eris.Errorf("batch: panic in %s stage: %v", it.Status, p))
		}
	}()

	for !it.Status.IsTerminal() {
		if r.paused.Load() || ctx.Err() != nil {
			return
		}
		start := time.Now()
		next, err := o.advance(ctx, job, it)
		if err == nil {
			err = o.store.SaveItem(ctx, next)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.fail(ctx, &it, err)
			return
		}
		metrics.ObserveSince(metrics.BatchStageSeconds.WithLabelValues(string(next.Status)), start)
		it = next
	}
	metrics.BatchItemsTotal.WithLabelValues(string(it.Status)).Inc()
}

// advance computes the item's next checkpoint.
func (o *Orchestrator) advance(ctx context.Context, job *model.BatchJob, it model.BatchItem) (model.BatchItem, error) {
	switch it.Status {
	case model.ItemParsed:
		return o.split(it), nil
	case model.ItemSplit:
		return o.retrieve(ctx, job, it)
	case model.ItemRetrieved:
		return o.rank(ctx, job, it)
	case model.ItemRanked:
		if it.Result != nil && it.Result.NeedsReview {
			it.Status = model.ItemNeedsReview
		} else {
			it.Status = model.ItemDone
		}
		return it, nil
	default:
		return it, eris.Errorf("batch: item %s cannot advance from %s", it.ID, it.Status)
	}
}

// split breaks a row into its work descriptions. A row with none goes
// straight to review.
func (o *Orchestrator) split(it model.BatchItem) model.BatchItem {
	it.Attempts++
	parts := classify.Split(it.Raw, o.classifier.Keywords())
	if len(parts) == 0 {
		it.Shape = model.ShapeUnknown
		it.SubItems = nil
		it.Result = carry(it.Result)
		it.Result.NeedsReview = true
		it.Status = model.ItemNeedsReview
		return it
	}

	it.Shape = model.ShapeSingle
	if len(parts) > 1 {
		it.Shape = model.ShapeComposite
	}
	it.SubItems = make([]model.SubItem, len(parts))
	for i, p := range parts {
		it.SubItems[i] = model.SubItem{Index: i, Raw: p, Text: normalize.Text(p)}
	}
	if len(parts) == 1 && it.Text != "" {
		it.SubItems[0].Text = it.Text
	}
	it.Status = model.ItemSplit
	return it
}

// retrieve runs the local tier for every sub-item concurrently.
func (o *Orchestrator) retrieve(ctx context.Context, job *model.BatchJob, it model.BatchItem) (model.BatchItem, error) {
	subs := slices.Clone(it.SubItems)
	g, gctx := errgroup.WithContext(ctx)
	for i := range subs {
		g.Go(guard(func() error {
			l, err := o.engine.Retrieve(gctx, query(job, it, subs[i]))
			if err != nil {
				return eris.Wrapf(err, "batch: retrieve %q", subs[i].Raw)
			}
			subs[i].Candidates = l.Candidates
			subs[i].CacheHit = l.CacheHit
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return it, err
	}
	it.SubItems = subs
	it.Status = model.ItemRetrieved
	return it, nil
}

// rank gates every sub-item concurrently; escalations share the
// process-wide queue.
func (o *Orchestrator) rank(ctx context.Context, job *model.BatchJob, it model.BatchItem) (model.BatchItem, error) {
	opts := engine.Options{
		NoEscalation:  !job.Settings.EscalationEnabled,
		MaxCandidates: job.Settings.MaxCandidates,
	}
	subs := slices.Clone(it.SubItems)
	var g errgroup.Group
	for i := range subs {
		g.Go(guard(func() error {
			q := query(job, it, subs[i])
			res := o.engine.Rank(ctx, q, lookupOf(q, subs[i]), opts)
			subs[i].Result = &res
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return it, err
	}

	result := carry(it.Result)
	result.Resolutions = make([]model.Resolution, len(subs))
	for i, s := range subs {
		result.Resolutions[i] = *s.Result
		result.NeedsReview = result.NeedsReview || s.Result.NeedsReview
		result.UsedFallback = result.UsedFallback || s.Result.Source == model.SourceFallbackError
		result.CostUSD += s.Result.CostUSD
	}
	it.SubItems = subs
	it.Result = result
	it.Status = model.ItemRanked
	return it, nil
}

// fail records an item as failed. The error kind tells a retry apart from
// a lost cause.
func (o *Orchestrator) fail(ctx context.Context, it *model.BatchItem, cause error) {
	it.Status = model.ItemError
	it.Error = cause.Error()
	it.ErrorKind = resilience.ClassifyError(cause)
	zap.L().Warn("batch: item failed",
		zap.String("job_id", it.JobID),
		zap.String("item_id", it.ID),
		zap.Int("seq", it.Seq),
		zap.String("kind", it.ErrorKind),
		zap.Error(cause),
	)
	if err := o.store.SaveItem(context.WithoutCancel(ctx), *it); err != nil {
		zap.L().Error("batch: record item failure", zap.String("item_id", it.ID), zap.Error(err))
		return
	}
	metrics.BatchItemsTotal.WithLabelValues(string(model.ItemError)).Inc()
}

// guard turns a panic in a fan-out goroutine into an error.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = eris.Errorf("batch: panic: %v", p)
			}
		}()
		return fn()
	}
}

// classified records the parse stage's share of an item result: whether
// the keyword fallback categorized the row and its share of the provider
// cost.
func classified(fallback bool, costUSD float64) *model.ItemResult {
	if !fallback && costUSD == 0 {
		return nil
	}
	return &model.ItemResult{UsedFallback: fallback, CostUSD: costUSD}
}

// carry starts a fresh item result that keeps the fallback flag and cost
// recorded by earlier stages.
func carry(prev *model.ItemResult) *model.ItemResult {
	if prev == nil {
		return &model.ItemResult{}
	}
	return &model.ItemResult{UsedFallback: prev.UsedFallback, CostUSD: prev.CostUSD}
}

// query rebuilds a sub-item's query from the checkpointed item, reusing the
// text and language normalized at parse time.
func query(job *model.BatchJob, it model.BatchItem, sub model.SubItem) model.NormalizedQuery {
	text := sub.Text
	if text == "" {
		text = normalize.Text(sub.Raw)
	}
	lang := it.Language
	if lang == "" {
		lang = normalize.DetectLanguage(sub.Raw)
	}
	return model.NormalizedQuery{
		Raw:         sub.Raw,
		Text:        text,
		Language:    lang,
		Category:    it.Category,
		Context:     job.Context,
		ContextHash: job.Context.Hash(),
	}
}

// lookupOf rebuilds the local lookup checkpointed on a sub-item.
func lookupOf(q model.NormalizedQuery, sub model.SubItem) resolver.Lookup {
	l := resolver.Lookup{CacheHit: sub.CacheHit, Candidates: sub.Candidates}
	if top, ok := sub.Candidates.Top(); ok && sub.CacheHit {
		l.Mapping = &model.LearnedMapping{
			NormalizedText: q.Text,
			ContextHash:    q.ContextHash,
			Code:           top.Entry.Code,
			Confidence:     top.Score,
		}
	} else {
		l.CacheHit = false
	}
	return l
}
