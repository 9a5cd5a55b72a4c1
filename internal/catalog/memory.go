package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/normalize"
)

type indexedEntry struct {
	entry model.CatalogEntry
	text  string // normalized name
	code  string // lowercased code
}

// MemoryStore serves an immutable in-memory catalog snapshot.
type MemoryStore struct {
	entries    []indexedEntry
	byCode     map[string]int
	byCategory map[string][]int
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds a snapshot from entries. Entries are ordered by code.
func NewMemoryStore(entries []model.CatalogEntry) *MemoryStore {
	sorted := make([]model.CatalogEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	s := &MemoryStore{
		entries:    make([]indexedEntry, 0, len(sorted)),
		byCode:     make(map[string]int, len(sorted)),
		byCategory: make(map[string][]int),
	}
	for _, e := range sorted {
		if _, dup := s.byCode[e.Code]; dup {
			continue
		}
		idx := len(s.entries)
		s.entries = append(s.entries, indexedEntry{
			entry: e,
			text:  normalize.Text(e.Name),
			code:  strings.ToLower(e.Code),
		})
		s.byCode[e.Code] = idx
		cat := strings.ToLower(e.Category)
		s.byCategory[cat] = append(s.byCategory[cat], idx)
	}
	return s
}

// LoadRows builds a snapshot from code,name,unit,category rows.
func LoadRows(rows [][]string) (*MemoryStore, error) {
	entries := ParseRows(rows)
	if len(entries) == 0 {
		return nil, eris.New("catalog: snapshot has no entries")
	}
	return NewMemoryStore(entries), nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int { return len(s.entries) }

// Entries returns a copy of every entry, ordered by code.
func (s *MemoryStore) Entries() []model.CatalogEntry {
	out := make([]model.CatalogEntry, len(s.entries))
	for i, ie := range s.entries {
		out[i] = ie.entry
	}
	return out
}

// Lookup returns the entry with the given code.
func (s *MemoryStore) Lookup(_ context.Context, code string) (*model.CatalogEntry, error) {
	idx, ok := s.byCode[strings.TrimSpace(code)]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "code %q", code)
	}
	e := s.entries[idx].entry
	return &e, nil
}

// Search matches entries whose normalized name contains the normalized text,
// whose code starts with it, or whose name contains every token of it.
func (s *MemoryStore) Search(ctx context.Context, text string, limit int) ([]model.CatalogEntry, error) {
	q := normalize.Text(text)
	if q == "" {
		return nil, nil
	}
	tokens := normalize.Tokens(q)

	var out []model.CatalogEntry
	for i := range s.entries {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "catalog: search")
			}
		}
		ie := &s.entries[i]
		if !matches(ie, q, tokens) {
			continue
		}
		out = append(out, ie.entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matches(ie *indexedEntry, q string, tokens []string) bool {
	if strings.Contains(ie.text, q) || strings.HasPrefix(ie.code, q) {
		return true
	}
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(ie.text, t) && !strings.HasPrefix(ie.code, t) {
			return false
		}
	}
	return true
}

// ListByCategory returns every entry of a category.
func (s *MemoryStore) ListByCategory(_ context.Context, category string) ([]model.CatalogEntry, error) {
	idxs := s.byCategory[strings.ToLower(strings.TrimSpace(category))]
	out := make([]model.CatalogEntry, len(idxs))
	for i, idx := range idxs {
		out[i] = s.entries[idx].entry
	}
	return out, nil
}
