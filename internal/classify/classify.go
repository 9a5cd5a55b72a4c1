// Package classify groups BOQ rows into work categories. It asks the AI
// provider first and falls back to a deterministic keyword table whenever the
// provider is slow, failing, disabled or returns something unusable.
package classify

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/metrics"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
	"github.com/sells-group/boq-resolver/internal/provider"
	"github.com/sells-group/boq-resolver/internal/resilience"
	"github.com/sells-group/boq-resolver/internal/stagecache"
)

// Config controls chunking and timeouts.
type Config struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ChunkSize    int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	KeywordsPath string        `yaml:"keywords_path" mapstructure:"keywords_path"`
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// Defaults.
const (
	DefaultTimeout   = 20 * time.Second
	DefaultChunkSize = 50
)

// Row is one input row. Callers set Index and Raw; Classify fills Text,
// Language and the row's even share of its chunk's provider cost.
type Row struct {
	Index    int     `json:"index"`
	Raw      string  `json:"raw"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
	CostUSD  float64 `json:"cost_usd,omitempty"`
}

// Block is a group of rows sharing a category. Fallback marks rows that were
// classified by the keyword table because the provider failed.
type Block struct {
	Category string `json:"category"`
	Rows     []Row  `json:"rows"`
	Fallback bool   `json:"fallback"`
}

// Classifier assigns categories to rows.
type Classifier struct {
	provider provider.Provider
	keywords *KeywordTable
	cache    stagecache.Cache
	breaker  *resilience.CircuitBreaker
	cfg      Config
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithCache stores provider classifications in a stage cache.
func WithCache(c stagecache.Cache) Option {
	return func(cl *Classifier) { cl.cache = c }
}

// WithBreaker routes provider calls through a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Classifier) { cl.breaker = cb }
}

// New creates a Classifier. A nil provider or keyword table selects the
// disabled provider or the default table.
func New(p provider.Provider, kw *KeywordTable, cfg Config, opts ...Option) *Classifier {
	if p == nil {
		p = provider.Disabled{}
	}
	if kw == nil {
		kw = DefaultKeywords()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	c := &Classifier{provider: p, keywords: kw, cache: stagecache.Nop{}, cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Keywords returns the fallback keyword table.
func (c *Classifier) Keywords() *KeywordTable { return c.keywords }

type assigned struct {
	category string
	fallback bool
}

// Classify groups rows into category blocks. It never fails: every row ends
// up in exactly one block, in first-seen category order.
func (c *Classifier) Classify(ctx context.Context, rows []Row, cctx model.ContextDescriptor) []Block {
	hash := cctx.Hash()
	result := make(map[int]assigned, len(rows))
	costs := make(map[int]float64)

	var pending []Row
	for i := range rows {
		r := &rows[i]
		r.Text = normalize.Text(r.Raw)
		r.Language = normalize.DetectLanguage(r.Raw)

		if !hasLetter(r.Text) {
			result[r.Index] = assigned{category: Uncategorized}
			continue
		}
		if cat, ok := stagecache.GetJSON[string](ctx, c.cache, c.cacheKey(r.Text, hash)); ok && c.keywords.Has(cat) {
			result[r.Index] = assigned{category: cat}
			metrics.ClassifierChunksTotal.WithLabelValues("cached").Inc()
			continue
		}
		pending = append(pending, *r)
	}

	for start := 0; start < len(pending); start += c.cfg.ChunkSize {
		chunk := pending[start:min(start+c.cfg.ChunkSize, len(pending))]
		cats, cost, err := c.classifyChunk(ctx, chunk, cctx)
		for _, r := range chunk {
			costs[r.Index] = cost / float64(len(chunk))
		}
		if err != nil {
			// A disabled provider makes the keyword table the configured
			// path, so only provider failures count as a fallback.
			failed := !errors.Is(err, provider.ErrDisabled)
			if failed {
				zap.L().Warn("classify: falling back to keywords",
					zap.Int("rows", len(chunk)),
					zap.Error(err),
				)
			}
			metrics.ClassifierChunksTotal.WithLabelValues("fallback").Inc()
			for _, r := range chunk {
				result[r.Index] = assigned{category: c.keywords.Category(r.Raw), fallback: failed}
			}
			continue
		}

		metrics.ClassifierChunksTotal.WithLabelValues("provider").Inc()
		for _, r := range chunk {
			result[r.Index] = assigned{category: cats[r.Index]}
			stagecache.SetJSON(ctx, c.cache, c.cacheKey(r.Text, hash), cats[r.Index], c.cfg.CacheTTL)
		}
	}

	for i := range rows {
		rows[i].CostUSD = costs[rows[i].Index]
	}
	return group(rows, result)
}

// classifyChunk calls the provider under the per-chunk timeout and validates
// that every row got a known category. The cost of a response is returned
// even when the response is rejected.
func (c *Classifier) classifyChunk(ctx context.Context, chunk []Row, cctx model.ContextDescriptor) (map[int]string, float64, error) {
	req := provider.ClassifyRequest{
		Rows:       make([]provider.ClassifyRow, len(chunk)),
		Categories: c.keywords.Names(),
		Context:    cctx,
	}
	for i, r := range chunk {
		req.Rows[i] = provider.ClassifyRow{Index: r.Index, Text: r.Raw}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	call := func(ctx context.Context) (*provider.ClassifyResponse, error) {
		return c.provider.Classify(ctx, req)
	}
	var (
		resp *provider.ClassifyResponse
		err  error
	)
	if c.breaker != nil {
		resp, err = resilience.ExecuteVal(callCtx, c.breaker, call)
	} else {
		resp, err = call(callCtx)
	}
	if err != nil {
		return nil, 0, err
	}
	if resp == nil {
		return nil, 0, eris.New("classify: empty provider response")
	}

	want := make(map[int]bool, len(chunk))
	for _, r := range chunk {
		want[r.Index] = true
	}
	out := make(map[int]string, len(chunk))
	for _, a := range resp.Assignments {
		if !want[a.Index] {
			return nil, resp.CostUSD, eris.Errorf("classify: unknown row index %d in response", a.Index)
		}
		if !c.keywords.Has(a.Category) {
			return nil, resp.CostUSD, eris.Errorf("classify: unknown category %q in response", a.Category)
		}
		out[a.Index] = a.Category
	}
	if len(out) != len(chunk) {
		return nil, resp.CostUSD, eris.Errorf("classify: response covers %d of %d rows", len(out), len(chunk))
	}
	return out, resp.CostUSD, nil
}

func (c *Classifier) cacheKey(text, ctxHash string) string {
	return stagecache.Key("classify", c.provider.Name(), ctxHash, text)
}

func group(rows []Row, result map[int]assigned) []Block {
	var blocks []Block
	idx := make(map[assigned]int)
	for _, r := range rows {
		a := result[r.Index]
		if a.category == "" {
			a.category = Uncategorized
		}
		bi, ok := idx[a]
		if !ok {
			bi = len(blocks)
			idx[a] = bi
			blocks = append(blocks, Block{Category: a.category, Fallback: a.fallback})
		}
		blocks[bi].Rows = append(blocks[bi].Rows, r)
	}
	return blocks
}

// Categories flattens blocks into a row index → category map.
func Categories(blocks []Block) map[int]string {
	out := make(map[int]string)
	for _, b := range blocks {
		for _, r := range b.Rows {
			out[r.Index] = b.Category
		}
	}
	return out
}
