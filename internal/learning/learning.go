// Package learning is the learned mapping cache: confirmed text → catalog
// code resolutions keyed by normalized text and context hash.
package learning

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/metrics"
	"github.com/sells-group/boq-resolver/internal/model"
)

// Store persists learned mappings. UpsertMapping must merge atomically
// (max confidence, usage+1) so concurrent confirmations never lose updates.
// GetMapping returns nil, nil for a missing key.
type Store interface {
	GetMapping(ctx context.Context, key model.MappingKey) (*model.LearnedMapping, error)
	UpsertMapping(ctx context.Context, m model.LearnedMapping, now time.Time) (*model.LearnedMapping, error)
	ValidateMapping(ctx context.Context, key model.MappingKey, code string, now time.Time) (*model.LearnedMapping, error)
	DeleteMappings(ctx context.Context, rule model.CleanupRule) (int64, error)
	ListMappings(ctx context.Context, filter model.MappingFilter) ([]model.LearnedMapping, error)
}

const lockShards = 64

// Cache fronts a Store. Reads degrade to misses and writes to no-ops on
// store failure; a nil store disables the cache entirely.
type Cache struct {
	store   Store
	locks   [lockShards]sync.Mutex
	nowFunc func() time.Time
}

// NewCache wraps a store. Pass nil to disable learning.
func NewCache(store Store) *Cache {
	return &Cache{store: store, nowFunc: time.Now}
}

// Enabled reports whether a store is configured.
func (c *Cache) Enabled() bool { return c != nil && c.store != nil }

func (c *Cache) lock(key model.MappingKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return &c.locks[h.Sum32()%lockShards]
}

// Get returns the mapping for key. Any store error is logged and reported
// as a miss.
func (c *Cache) Get(ctx context.Context, key model.MappingKey) (*model.LearnedMapping, bool) {
	if !c.Enabled() || key.Text == "" {
		return nil, false
	}
	m, err := c.store.GetMapping(ctx, key)
	if err != nil {
		zap.L().Warn("learning: read failed, treating as miss",
			zap.String("text", key.Text),
			zap.Error(err),
		)
		return nil, false
	}
	if m == nil || m.Code == "" {
		return nil, false
	}
	return m, true
}

// Confirm records a confirmed resolution. Confidence is merged with max
// semantics and usage grows by one. Failures are logged and returned; the
// caller's resolution stands either way.
func (c *Cache) Confirm(ctx context.Context, key model.MappingKey, code string, confidence float64) (*model.LearnedMapping, error) {
	if !c.Enabled() || key.Text == "" || code == "" {
		return nil, nil
	}
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.store.UpsertMapping(ctx, model.LearnedMapping{
		NormalizedText: key.Text,
		ContextHash:    key.ContextHash,
		Code:           code,
		Confidence:     model.ClampConfidence(confidence),
	}, c.nowFunc().UTC())
	if err != nil {
		metrics.LearningWritesTotal.WithLabelValues("error").Inc()
		zap.L().Warn("learning: write failed",
			zap.String("text", key.Text),
			zap.String("code", code),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "learning: confirm")
	}
	metrics.LearningWritesTotal.WithLabelValues("ok").Inc()
	return m, nil
}

// Validate pins a mapping as user-confirmed with confidence 1.0. Validated
// mappings survive cleanup.
func (c *Cache) Validate(ctx context.Context, key model.MappingKey, code string) (*model.LearnedMapping, error) {
	if !c.Enabled() {
		return nil, eris.New("learning: cache disabled")
	}
	code = strings.TrimSpace(code)
	if key.Text == "" || code == "" {
		return nil, eris.New("learning: validate needs text and code")
	}
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.store.ValidateMapping(ctx, key, code, c.nowFunc().UTC())
	if err != nil {
		return nil, eris.Wrap(err, "learning: validate")
	}
	return m, nil
}

// Cleanup deletes stale mappings under the policy and returns the count.
func (c *Cache) Cleanup(ctx context.Context, p Policy) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	n, err := c.store.DeleteMappings(ctx, p.Rule())
	if err != nil {
		return 0, eris.Wrap(err, "learning: cleanup")
	}
	zap.L().Info("learning: cleanup complete",
		zap.Int64("deleted", n),
		zap.Float64("min_confidence", p.MinConfidence),
		zap.Int("min_usage", p.MinUsage),
	)
	return n, nil
}

// List returns mappings matching the filter.
func (c *Cache) List(ctx context.Context, f model.MappingFilter) ([]model.LearnedMapping, error) {
	if !c.Enabled() {
		return nil, nil
	}
	out, err := c.store.ListMappings(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list")
	}
	return out, nil
}
