package continuity

import "fmt"

// NewRule creates a rule by name
func NewRule(name string) (Rule, error) {
	switch Kind(name) {
	case Axis180:
		return AxisRule{}, nil
	case JumpCut30:
		return JumpCutRule{FocalThresholdMM: JumpCutFocalThresholdMM}, nil
	default:
		return nil, fmt.Errorf("unknown continuity rule: %s", name)
	}
}

// DefaultRules returns every rule in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		AxisRule{},
		JumpCutRule{FocalThresholdMM: JumpCutFocalThresholdMM},
	}
}
