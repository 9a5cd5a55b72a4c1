// Package gate decides what happens to a candidate set: accept the top
// candidate, accept it flagged as low confidence, or escalate.
package gate

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/model"
)

// Decision is the gate's verdict for one candidate set.
type Decision string

const (
	AutoAccept          Decision = "auto_accept"
	AcceptLowConfidence Decision = "accept_low_confidence"
	Escalate            Decision = "escalate"
	Review              Decision = "review"
)

// Default thresholds.
const (
	DefaultAutoAccept = 0.85
	DefaultAccept     = 0.70
)

// Policy holds the gate thresholds.
type Policy struct {
	AutoAccept        float64 `yaml:"auto_accept" mapstructure:"auto_accept"`
	Accept            float64 `yaml:"accept" mapstructure:"accept"`
	EscalationEnabled bool    `yaml:"escalation_enabled" mapstructure:"escalation_enabled"`
}

// DefaultPolicy returns the default thresholds with escalation on.
func DefaultPolicy() Policy {
	return Policy{AutoAccept: DefaultAutoAccept, Accept: DefaultAccept, EscalationEnabled: true}
}

// Validate checks that 0 <= Accept <= AutoAccept <= 1.
func (p Policy) Validate() error {
	if p.Accept < 0 || p.AutoAccept > 1 || p.Accept > p.AutoAccept {
		return eris.Errorf("gate: thresholds must satisfy 0 <= accept (%.2f) <= auto_accept (%.2f) <= 1",
			p.Accept, p.AutoAccept)
	}
	return nil
}

// Decide classifies a ranked candidate set by its top score. An empty set
// or a score below Accept escalates, or goes to review when escalation is
// off.
func (p Policy) Decide(set model.CandidateSet) Decision {
	top, ok := set.Top()
	switch {
	case ok && top.Score >= p.AutoAccept:
		return AutoAccept
	case ok && top.Score >= p.Accept:
		return AcceptLowConfidence
	case p.EscalationEnabled:
		return Escalate
	default:
		return Review
	}
}

// WithEscalation returns a copy with escalation switched on or off.
func (p Policy) WithEscalation(enabled bool) Policy {
	p.EscalationEnabled = enabled
	return p
}
