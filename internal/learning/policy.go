package learning

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/model"
)

// Comparison selects a strict or inclusive threshold.
type Comparison string

const (
	LessThan    Comparison = "lt"
	LessOrEqual Comparison = "lte"
)

// Policy configures cleanup of stale mappings. A mapping is deleted when
// its confidence is below MinConfidence AND its usage count is below
// MinUsage, unless a user validated it.
type Policy struct {
	MinConfidence        float64    `yaml:"min_confidence" mapstructure:"min_confidence"`
	MinUsage             int        `yaml:"min_usage" mapstructure:"min_usage"`
	ConfidenceComparison Comparison `yaml:"confidence_comparison" mapstructure:"confidence_comparison"`
	UsageComparison      Comparison `yaml:"usage_comparison" mapstructure:"usage_comparison"`
}

// DefaultPolicy returns the default cleanup policy.
func DefaultPolicy() Policy {
	return Policy{
		MinConfidence:        0.70,
		MinUsage:             2,
		ConfidenceComparison: LessThan,
		UsageComparison:      LessThan,
	}
}

// Validate checks thresholds and comparison operators.
func (p Policy) Validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return eris.Errorf("learning: min_confidence %.2f out of range [0,1]", p.MinConfidence)
	}
	if p.MinUsage < 0 {
		return eris.Errorf("learning: min_usage %d is negative", p.MinUsage)
	}
	for _, c := range []Comparison{p.ConfidenceComparison, p.UsageComparison} {
		switch c {
		case "", LessThan, LessOrEqual:
		default:
			return eris.Errorf("learning: unknown comparison %q (want lt or lte)", c)
		}
	}
	return nil
}

// Rule converts the policy into a store-level cleanup rule.
func (p Policy) Rule() model.CleanupRule {
	return model.CleanupRule{
		MaxConfidence:       p.MinConfidence,
		MaxUsage:            p.MinUsage,
		ConfidenceInclusive: p.ConfidenceComparison == LessOrEqual,
		UsageInclusive:      p.UsageComparison == LessOrEqual,
	}
}
