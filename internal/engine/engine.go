// Package engine ties the resolution tiers together: learned mappings and
// local search, the confidence gate, escalation to the external selector,
// and related-item rules.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/escalation"
	"github.com/sells-group/boq-resolver/internal/gate"
	"github.com/sells-group/boq-resolver/internal/learning"
	"github.com/sells-group/boq-resolver/internal/metrics"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
	"github.com/sells-group/boq-resolver/internal/related"
	"github.com/sells-group/boq-resolver/internal/resolver"
)

// Options adjust one resolution. The zero value uses the engine defaults.
type Options struct {
	// NoEscalation sends low-scoring queries to review instead of the
	// selector.
	NoEscalation bool
	// MaxCandidates caps the candidates sent to the selector below the
	// queue's own limit.
	MaxCandidates int
}

// Engine resolves normalized queries to catalog codes.
type Engine struct {
	resolver *resolver.Resolver
	learned  *learning.Cache
	queue    *escalation.Queue
	related  *related.Table
	policy   gate.Policy
}

// New creates an Engine. A nil queue disables escalation; a nil related
// table suggests nothing beyond what the selector returns.
func New(res *resolver.Resolver, learned *learning.Cache, queue *escalation.Queue, rel *related.Table, policy gate.Policy) *Engine {
	if learned == nil {
		learned = learning.NewCache(nil)
	}
	return &Engine{resolver: res, learned: learned, queue: queue, related: rel, policy: policy}
}

// Policy returns the gate policy.
func (e *Engine) Policy() gate.Policy { return e.policy }

// ResolveText normalizes raw under cctx and resolves it.
func (e *Engine) ResolveText(ctx context.Context, raw string, cctx model.ContextDescriptor, opts Options) (model.Resolution, error) {
	return e.Resolve(ctx, normalize.Query(raw, cctx), opts)
}

// Resolve runs every tier for q. Only a failing local search is an error;
// selector and cache failures degrade into the result.
func (e *Engine) Resolve(ctx context.Context, q model.NormalizedQuery, opts Options) (model.Resolution, error) {
	lookup, err := e.Retrieve(ctx, q)
	if err != nil {
		return model.Resolution{}, err
	}
	return e.Rank(ctx, q, lookup, opts), nil
}

// Retrieve is the local tier: a learned mapping or ranked catalog
// candidates.
func (e *Engine) Retrieve(ctx context.Context, q model.NormalizedQuery) (resolver.Lookup, error) {
	l, err := e.resolver.Resolve(ctx, q)
	if err != nil {
		return resolver.Lookup{}, err
	}
	return *l, nil
}

// Rank turns a local lookup into a resolution, escalating when the gate
// says so. It never fails.
func (e *Engine) Rank(ctx context.Context, q model.NormalizedQuery, l resolver.Lookup, opts Options) model.Resolution {
	var res model.Resolution
	if l.CacheHit && l.Mapping != nil {
		res = e.fromCache(ctx, q, l)
	} else {
		res = e.decide(ctx, q, l.Candidates, opts)
	}
	metrics.ResolutionsTotal.WithLabelValues(string(res.Source)).Inc()
	return res
}

func (e *Engine) fromCache(ctx context.Context, q model.NormalizedQuery, l resolver.Lookup) model.Resolution {
	top, _ := l.Candidates.Top()
	m := l.Mapping
	// Repeat hits count as usage; confidence is unchanged by max().
	e.confirm(ctx, q, m.Code, m.Confidence)

	low := !m.ValidatedByUser && m.Confidence < e.policy.AutoAccept
	return e.accepted(q, top, model.Resolution{
		Confidence:    m.Confidence,
		Source:        model.SourceCache,
		LowConfidence: low,
		NeedsReview:   low,
		Candidates:    l.Candidates,
	}, nil)
}

func (e *Engine) decide(ctx context.Context, q model.NormalizedQuery, set model.CandidateSet, opts Options) model.Resolution {
	policy := e.policy
	if opts.NoEscalation || e.queue == nil {
		policy = policy.WithEscalation(false)
	}
	shown := set.Limit(e.resolver.TopK())

	switch policy.Decide(set) {
	case gate.AutoAccept:
		top, _ := set.Top()
		e.confirm(ctx, q, top.Entry.Code, top.Score)
		return e.accepted(q, top, model.Resolution{
			Confidence: top.Score,
			Source:     model.SourceLocal,
			Candidates: shown,
		}, nil)

	case gate.AcceptLowConfidence:
		top, _ := set.Top()
		e.confirm(ctx, q, top.Entry.Code, top.Score)
		return e.accepted(q, top, model.Resolution{
			Confidence:    top.Score,
			Source:        model.SourceLocal,
			LowConfidence: true,
			NeedsReview:   true,
			Candidates:    shown,
		}, nil)

	case gate.Escalate:
		return e.escalate(ctx, q, set, opts)

	default:
		return model.Resolution{Source: model.SourceNone, NeedsReview: true, Candidates: shown}
	}
}

func (e *Engine) escalate(ctx context.Context, q model.NormalizedQuery, set model.CandidateSet, opts Options) model.Resolution {
	sendable := set
	if opts.MaxCandidates > 0 {
		sendable = set.Limit(opts.MaxCandidates)
	}
	out := e.queue.Submit(ctx, escalation.Request{Text: q.Text, Candidates: sendable, Context: q.Context})

	if out.Selected == nil {
		return model.Resolution{
			Source:      model.SourceNone,
			NeedsReview: true,
			Candidates:  out.Sent,
			CostUSD:     out.CostUSD,
		}
	}

	res := model.Resolution{
		Confidence: out.Confidence,
		Source:     out.Source,
		Rationale:  out.Rationale,
		Candidates: out.Sent,
		CostUSD:    out.CostUSD,
	}
	if out.Source == model.SourceEscalated {
		e.confirm(ctx, q, out.Selected.Entry.Code, out.Confidence)
		if out.Confidence < e.policy.Accept {
			res.LowConfidence = true
			res.NeedsReview = true
		}
	} else {
		// Fallbacks are never learned.
		res.LowConfidence = true
		res.NeedsReview = true
	}
	return e.accepted(q, *out.Selected, res, out.Related)
}

// accepted fills in the selected entry and its related items.
func (e *Engine) accepted(q model.NormalizedQuery, c model.Candidate, res model.Resolution, fromSelector []model.RelatedRef) model.Resolution {
	entry := c.Entry
	res.Code = entry.Code
	res.Entry = &entry
	res.Related = related.Merge(entry.Code, e.related.Related(entry, q.Context), fromSelector)
	return res
}

// confirm writes through to the learned mapping cache. Failures are
// logged; the resolution stands either way.
func (e *Engine) confirm(ctx context.Context, q model.NormalizedQuery, code string, confidence float64) {
	if _, err := e.learned.Confirm(ctx, q.Key(), code, confidence); err != nil {
		zap.L().Warn("engine: learned mapping write failed",
			zap.String("text", q.Text),
			zap.String("code", code),
			zap.Error(err),
		)
	}
}
