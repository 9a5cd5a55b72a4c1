package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/batch"
	"github.com/sells-group/boq-resolver/internal/catalog"
	"github.com/sells-group/boq-resolver/internal/classify"
	"github.com/sells-group/boq-resolver/internal/config"
	"github.com/sells-group/boq-resolver/internal/cost"
	"github.com/sells-group/boq-resolver/internal/engine"
	"github.com/sells-group/boq-resolver/internal/escalation"
	"github.com/sells-group/boq-resolver/internal/learning"
	"github.com/sells-group/boq-resolver/internal/provider"
	"github.com/sells-group/boq-resolver/internal/related"
	"github.com/sells-group/boq-resolver/internal/resilience"
	"github.com/sells-group/boq-resolver/internal/resolver"
	"github.com/sells-group/boq-resolver/internal/stagecache"
	"github.com/sells-group/boq-resolver/internal/store"
)

// resolverEnv holds everything the resolve, batch and serve commands need.
type resolverEnv struct {
	Store      store.Store
	Catalog    catalog.Store
	Provider   provider.Provider
	Costs      *cost.Calculator
	Learned    *learning.Cache
	Queue      *escalation.Queue
	Engine     *engine.Engine
	Classifier *classify.Classifier
	Batch      *batch.Orchestrator

	closers []func()
}

// Close stops running jobs and releases resources in reverse order.
func (e *resolverEnv) Close() {
	if e.Batch != nil {
		e.Batch.Shutdown()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv validates the config for mode, opens the store, catalog and stage
// cache, and builds the engine. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*resolverEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, closeCatalog, err := initCatalog(ctx, c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	stage, closeStage := initStageCache(ctx, c, st)

	calc := cost.NewCalculator(c.Pricing)
	prov, err := provider.New(c.Provider, nil, calc)
	if err != nil {
		closeStage()
		closeCatalog()
		_ = st.Close()
		return nil, err
	}

	env, err := buildEnv(c, st, cat, stage, prov)
	if err != nil {
		closeStage()
		closeCatalog()
		_ = st.Close()
		return nil, err
	}
	env.Costs = calc
	env.closers = append(env.closers, func() { _ = st.Close() }, closeCatalog, closeStage)
	return env, nil
}

// buildEnv wires the resolution components over already-open backends.
func buildEnv(c *config.Config, st store.Store, cat catalog.Store, stage stagecache.Cache, prov provider.Provider) (*resolverEnv, error) {
	var keywords *classify.KeywordTable
	if c.Classifier.KeywordsPath != "" {
		kw, err := classify.LoadKeywords(c.Classifier.KeywordsPath)
		if err != nil {
			return nil, eris.Wrap(err, "load keyword table")
		}
		keywords = kw
	}

	rules := related.DefaultTable()
	if c.Related.RulesPath != "" {
		t, err := related.Load(c.Related.RulesPath)
		if err != nil {
			return nil, eris.Wrap(err, "load related rules")
		}
		rules = t
	}

	classifyOpts := []classify.Option{classify.WithCache(stage)}
	if prov.Name() != provider.NameNone {
		classifyOpts = append(classifyOpts, classify.WithBreaker(resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig("classifier", c.Escalation.BreakerThreshold, c.Escalation.BreakerReset),
		)))
	}
	classifier := classify.New(prov, keywords, c.Classifier, classifyOpts...)

	learned := learning.NewCache(st)

	rcfg := c.Resolver
	rcfg.CandidateLimit = max(rcfg.CandidateLimit, c.Escalation.MaxCandidates, c.Batch.MaxCandidates)
	searcher := resolver.NewCatalogSearcher(cat, stage, rcfg.Search)
	res := resolver.New(cat, learned, searcher, rcfg)

	queue := escalation.NewQueue(prov, c.Escalation, escalation.WithCatalog(cat))
	eng := engine.New(res, learned, queue, rules, c.Gate)
	orch := batch.New(st, eng, classifier, c.Batch)

	zap.L().Debug("resolution engine ready",
		zap.String("provider", prov.Name()),
		zap.Int("top_k", res.TopK()),
		zap.Int("candidate_limit", rcfg.CandidateLimit),
		zap.Bool("escalation_enabled", c.Gate.EscalationEnabled),
	)

	return &resolverEnv{
		Store:      st,
		Catalog:    cat,
		Provider:   prov,
		Learned:    learned,
		Queue:      queue,
		Engine:     eng,
		Classifier: classifier,
		Batch:      orch,
	}, nil
}
