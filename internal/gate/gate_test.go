package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/boq-resolver/internal/model"
)

func set(scores ...float64) model.CandidateSet {
	out := make(model.CandidateSet, len(scores))
	for i, s := range scores {
		out[i] = model.Candidate{Entry: model.CatalogEntry{Code: string(rune('a' + i))}, Score: s}
	}
	return out
}

func TestPolicy_Decide(t *testing.T) {
	on := DefaultPolicy()
	off := on.WithEscalation(false)

	tests := []struct {
		name   string
		policy Policy
		set    model.CandidateSet
		want   Decision
	}{
		{"auto accept", on, set(0.94, 0.62), AutoAccept},
		{"auto accept boundary", on, set(0.85), AutoAccept},
		{"low confidence", on, set(0.84), AcceptLowConfidence},
		{"low confidence boundary", on, set(0.70), AcceptLowConfidence},
		{"escalate", on, set(0.69), Escalate},
		{"escalate ambiguous", on, set(0.40, 0.39), Escalate},
		{"escalate empty", on, nil, Escalate},
		{"review when disabled", off, set(0.40), Review},
		{"review empty when disabled", off, nil, Review},
		{"accept still works when disabled", off, set(0.90), AutoAccept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Decide(tt.set))
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{AutoAccept: 0.6, Accept: 0.7}.Validate())
	assert.Error(t, Policy{AutoAccept: 1.2, Accept: 0.7}.Validate())
	assert.Error(t, Policy{AutoAccept: 0.8, Accept: -0.1}.Validate())
}
