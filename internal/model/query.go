package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ContextDescriptor holds structured project attributes. The same text may
// resolve to different catalog codes under different contexts, so the
// descriptor's hash partitions the learned mapping cache.
type ContextDescriptor struct {
	ProjectType      string            `json:"project_type,omitempty" yaml:"project_type"`
	StructuralSystem string            `json:"structural_system,omitempty" yaml:"structural_system"`
	Region           string            `json:"region,omitempty" yaml:"region"`
	Attributes       map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

// Fields flattens the descriptor into lowercased key/value pairs. Empty
// values are dropped so that an unset attribute and an empty one hash alike.
func (c ContextDescriptor) Fields() map[string]string {
	out := make(map[string]string, len(c.Attributes)+3)
	put := func(k, v string) {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		if k == "" || v == "" {
			return
		}
		out[k] = v
	}
	for k, v := range c.Attributes {
		put(k, v)
	}
	put("project_type", c.ProjectType)
	put("structural_system", c.StructuralSystem)
	put("region", c.Region)
	return out
}

// IsEmpty reports whether the descriptor carries no attributes.
func (c ContextDescriptor) IsEmpty() bool {
	return len(c.Fields()) == 0
}

// Hash returns a stable digest of the descriptor. Keys are sorted, so map
// iteration order never changes the result.
func (c ContextDescriptor) Hash() string {
	fields := c.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(fields[k]))
		h.Write([]byte{'\n'})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Get returns an attribute by key, consulting the named fields first.
func (c ContextDescriptor) Get(key string) string {
	return c.Fields()[strings.ToLower(key)]
}

// NormalizedQuery is a single line item ready for resolution.
type NormalizedQuery struct {
	Raw         string            `json:"raw"`
	Text        string            `json:"text"`
	Language    string            `json:"language"`
	Category    string            `json:"category,omitempty"`
	Context     ContextDescriptor `json:"context"`
	ContextHash string            `json:"context_hash"`
}

// Key returns the cache partition key of the query.
func (q NormalizedQuery) Key() MappingKey {
	return MappingKey{Text: q.Text, ContextHash: q.ContextHash}
}
