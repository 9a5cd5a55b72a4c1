package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/boq-resolver/internal/model"
)

// MemoryStore is an in-process Store, used for single-shot CLI runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[model.MappingKey]model.LearnedMapping
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[model.MappingKey]model.LearnedMapping)}
}

// GetMapping implements Store.
func (s *MemoryStore) GetMapping(_ context.Context, key model.MappingKey) (*model.LearnedMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// UpsertMapping implements Store.
func (s *MemoryStore) UpsertMapping(_ context.Context, in model.LearnedMapping, now time.Time) (*model.LearnedMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := in.Key()
	cur, ok := s.data[key]
	if !ok {
		cur = model.LearnedMapping{NormalizedText: in.NormalizedText, ContextHash: in.ContextHash}
	}
	merged := cur.Merge(in, now)
	s.data[key] = merged
	return &merged, nil
}

// ValidateMapping implements Store.
func (s *MemoryStore) ValidateMapping(_ context.Context, key model.MappingKey, code string, now time.Time) (*model.LearnedMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	if !ok {
		cur = model.LearnedMapping{NormalizedText: key.Text, ContextHash: key.ContextHash, CreatedAt: now, LastUsedAt: now}
	}
	cur.Code = code
	cur.Confidence = 1.0
	cur.ValidatedByUser = true
	cur.UpdatedAt = now
	s.data[key] = cur
	return &cur, nil
}

// DeleteMappings implements Store.
func (s *MemoryStore) DeleteMappings(_ context.Context, rule model.CleanupRule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, m := range s.data {
		if rule.Matches(m) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

// ListMappings implements Store. Results are ordered by text then context.
func (s *MemoryStore) ListMappings(_ context.Context, f model.MappingFilter) ([]model.LearnedMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LearnedMapping
	for _, m := range s.data {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NormalizedText != out[j].NormalizedText {
			return out[i].NormalizedText < out[j].NormalizedText
		}
		return out[i].ContextHash < out[j].ContextHash
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
