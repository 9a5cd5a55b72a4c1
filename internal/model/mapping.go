package model

import (
	"strings"
	"time"
)

// MappingKey identifies a learned mapping.
type MappingKey struct {
	Text        string `json:"normalized_text"`
	ContextHash string `json:"context_hash"`
}

func (k MappingKey) String() string {
	return k.ContextHash + "|" + k.Text
}

// LearnedMapping is a previously confirmed text → catalog code resolution.
type LearnedMapping struct {
	NormalizedText  string    `json:"normalized_text"`
	ContextHash     string    `json:"context_hash"`
	Code            string    `json:"code"`
	Confidence      float64   `json:"confidence"`
	UsageCount      int       `json:"usage_count"`
	ValidatedByUser bool      `json:"validated_by_user"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
}

// Key returns the mapping's unique key.
func (m LearnedMapping) Key() MappingKey {
	return MappingKey{Text: m.NormalizedText, ContextHash: m.ContextHash}
}

// Merge folds a new confirmation into an existing mapping. Confidence only
// ever grows; the code follows the latest writer unless a user validated it.
// A user-validated mapping stays validated.
func (m LearnedMapping) Merge(incoming LearnedMapping, now time.Time) LearnedMapping {
	out := m
	if incoming.Confidence > out.Confidence {
		out.Confidence = incoming.Confidence
	}
	if incoming.Code != "" && !m.ValidatedByUser {
		out.Code = incoming.Code
	}
	out.ValidatedByUser = m.ValidatedByUser || incoming.ValidatedByUser
	out.UsageCount = m.UsageCount + 1
	out.UpdatedAt = now
	out.LastUsedAt = now
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	return out
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// CleanupRule selects stale mappings for deletion: confidence below the
// threshold AND usage below the minimum, never user-validated ones. The
// inclusive flags turn "<" into "<=".
type CleanupRule struct {
	MaxConfidence       float64 `json:"max_confidence"`
	MaxUsage            int     `json:"max_usage"`
	ConfidenceInclusive bool    `json:"confidence_inclusive"`
	UsageInclusive      bool    `json:"usage_inclusive"`
}

// Matches reports whether the rule deletes m.
func (r CleanupRule) Matches(m LearnedMapping) bool {
	if m.ValidatedByUser {
		return false
	}
	lowConf := m.Confidence < r.MaxConfidence
	if r.ConfidenceInclusive {
		lowConf = m.Confidence <= r.MaxConfidence
	}
	lowUsage := m.UsageCount < r.MaxUsage
	if r.UsageInclusive {
		lowUsage = m.UsageCount <= r.MaxUsage
	}
	return lowConf && lowUsage
}

// MappingFilter narrows a mapping listing.
type MappingFilter struct {
	ContextHash   string  `json:"context_hash,omitempty"`
	TextPrefix    string  `json:"text_prefix,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	ValidatedOnly bool    `json:"validated_only,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

// Matches reports whether m passes the filter. Limit is not applied.
func (f MappingFilter) Matches(m LearnedMapping) bool {
	if f.ContextHash != "" && m.ContextHash != f.ContextHash {
		return false
	}
	if f.TextPrefix != "" && !strings.HasPrefix(m.NormalizedText, f.TextPrefix) {
		return false
	}
	if m.Confidence < f.MinConfidence {
		return false
	}
	return !f.ValidatedOnly || m.ValidatedByUser
}
