package resolver

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/boq-resolver/internal/catalog"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
	"github.com/sells-group/boq-resolver/internal/stagecache"
)

// Searcher produces ranked candidates for a query.
type Searcher interface {
	Candidates(ctx context.Context, q model.NormalizedQuery, limit int) (model.CandidateSet, error)
}

// SearchConfig tunes catalog retrieval.
type SearchConfig struct {
	PrefilterLimit int           `yaml:"prefilter_limit" mapstructure:"prefilter_limit"`
	FanOut         int           `yaml:"fan_out" mapstructure:"fan_out"`
	MinScore       float64       `yaml:"min_score" mapstructure:"min_score"`
	CategoryBoost  float64       `yaml:"category_boost" mapstructure:"category_boost"`
	Weights        Weights       `yaml:"weights" mapstructure:"weights"`
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// CatalogSearcher retrieves entries from the catalog with a substring
// pre-filter, then scores them locally.
type CatalogSearcher struct {
	catalog catalog.Store
	cache   stagecache.Cache
	cfg     SearchConfig
}

// Ensure CatalogSearcher implements Searcher.
var _ Searcher = (*CatalogSearcher)(nil)

// NewCatalogSearcher creates a searcher. A nil cache disables candidate caching.
func NewCatalogSearcher(cat catalog.Store, cache stagecache.Cache, cfg SearchConfig) *CatalogSearcher {
	if cfg.PrefilterLimit <= 0 {
		cfg.PrefilterLimit = 200
	}
	if cfg.FanOut < 0 {
		cfg.FanOut = 0
	}
	if cfg.Weights.sum() <= 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cache == nil {
		cache = stagecache.Nop{}
	}
	return &CatalogSearcher{catalog: cat, cache: cache, cfg: cfg}
}

// Candidates runs the full text and up to FanOut of its longest tokens as
// concurrent catalog searches, merges the hits by code and ranks them.
func (s *CatalogSearcher) Candidates(ctx context.Context, q model.NormalizedQuery, limit int) (model.CandidateSet, error) {
	if q.Text == "" {
		return nil, nil
	}
	key := stagecache.Key("retrieve", q.Text, q.Category, strconv.Itoa(limit))
	if set, ok := stagecache.GetJSON[model.CandidateSet](ctx, s.cache, key); ok {
		return set, nil
	}

	queries := retrievalQueries(q.Text, s.cfg.FanOut)
	results := make([][]model.CatalogEntry, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range queries {
		g.Go(func() error {
			entries, err := s.catalog.Search(gctx, text, s.cfg.PrefilterLimit)
			if err != nil {
				return eris.Wrapf(err, "resolver: search %q", text)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var set model.CandidateSet
	for _, entries := range results {
		for _, e := range entries {
			if seen[e.Code] {
				continue
			}
			seen[e.Code] = true
			score := Score(q.Text, e, s.cfg.Weights)
			if q.Category != "" && e.Category == q.Category {
				score = model.ClampConfidence(score + s.cfg.CategoryBoost)
			}
			if score < s.cfg.MinScore || score == 0 {
				continue
			}
			set = append(set, model.Candidate{Entry: e, Score: score})
		}
	}
	set.Sort()
	set = set.Limit(limit)

	stagecache.SetJSON(ctx, s.cache, key, set, s.cfg.CacheTTL)
	return set, nil
}

// retrievalQueries returns the full text followed by its longest distinct
// tokens, longest first.
func retrievalQueries(text string, fanOut int) []string {
	queries := []string{text}
	if fanOut == 0 {
		return queries
	}
	tokens := dedup(normalize.Tokens(text))
	if len(tokens) < 2 {
		return queries
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return len([]rune(tokens[i])) > len([]rune(tokens[j]))
	})
	for _, t := range tokens {
		if len(queries) > fanOut {
			break
		}
		if len([]rune(t)) < 3 {
			continue
		}
		queries = append(queries, t)
	}
	return queries
}
