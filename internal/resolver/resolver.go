// Package resolver is the local resolution tier: the learned mapping fast
// path followed by catalog similarity search. It never calls external
// selection services.
package resolver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/catalog"
	"github.com/sells-group/boq-resolver/internal/learning"
	"github.com/sells-group/boq-resolver/internal/model"
)

// Config controls how many candidates are returned.
type Config struct {
	TopK           int          `yaml:"top_k" mapstructure:"top_k"`
	CandidateLimit int          `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	Search         SearchConfig `yaml:"search" mapstructure:"search"`
}

// DefaultTopK is the number of candidates the gate looks at.
const DefaultTopK = 3

// Lookup is the outcome of a local resolution.
type Lookup struct {
	CacheHit   bool
	Mapping    *model.LearnedMapping
	Candidates model.CandidateSet
}

// Resolver resolves queries locally.
type Resolver struct {
	catalog catalog.Store
	learned *learning.Cache
	search  Searcher
	cfg     Config
}

// New creates a Resolver. CandidateLimit defaults to TopK; raise it to keep
// enough candidates for escalation.
func New(cat catalog.Store, learned *learning.Cache, search Searcher, cfg Config) *Resolver {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.CandidateLimit < cfg.TopK {
		cfg.CandidateLimit = cfg.TopK
	}
	if learned == nil {
		learned = learning.NewCache(nil)
	}
	return &Resolver{catalog: cat, learned: learned, search: search, cfg: cfg}
}

// TopK returns the configured gate width.
func (r *Resolver) TopK() int { return r.cfg.TopK }

// Resolve returns the learned mapping when one exists for the query's text
// and context; otherwise ranked catalog candidates. Nothing found is an
// empty set, not an error.
func (r *Resolver) Resolve(ctx context.Context, q model.NormalizedQuery) (*Lookup, error) {
	if q.Text == "" {
		return &Lookup{}, nil
	}

	if m, ok := r.learned.Get(ctx, q.Key()); ok {
		if entry := r.entryFor(ctx, m.Code); entry != nil {
			return &Lookup{
				CacheHit:   true,
				Mapping:    m,
				Candidates: model.CandidateSet{{Entry: *entry, Score: m.Confidence}},
			}, nil
		}
	}

	set, err := r.search.Candidates(ctx, q, r.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}
	return &Lookup{Candidates: set}, nil
}

// entryFor resolves a learned code against the catalog. A code that has
// left the catalog is treated as a miss; a catalog error keeps the hit with
// a bare entry.
func (r *Resolver) entryFor(ctx context.Context, code string) *model.CatalogEntry {
	if r.catalog == nil {
		return &model.CatalogEntry{Code: code}
	}
	e, err := r.catalog.Lookup(ctx, code)
	if errors.Is(err, catalog.ErrNotFound) {
		zap.L().Warn("resolver: learned code missing from catalog", zap.String("code", code))
		return nil
	}
	if err != nil {
		zap.L().Warn("resolver: catalog lookup failed", zap.String("code", code), zap.Error(err))
		return &model.CatalogEntry{Code: code}
	}
	return e
}
