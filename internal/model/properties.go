package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel is a coarse ordinal severity. The zero value is Low.
type RiskLevel int

const (
	Low RiskLevel = iota
	Medium
	High
	Critical
)

var riskNames = [...]string{"low", "medium", "high", "critical"}

func (r RiskLevel) String() string {
	if r < Low || r > Critical {
		return fmt.Sprintf("risk(%d)", int(r))
	}
	return riskNames[r]
}

// ParseRiskLevel accepts the lower-case names, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, n := range riskNames {
		if strings.EqualFold(s, n) {
			return RiskLevel(i), nil
		}
	}
	return Low, fmt.Errorf("unknown risk level %q", s)
}

// RiskLevelForScore maps a 0..100 pattern score onto a level.
func RiskLevelForScore(score uint8) RiskLevel {
	switch {
	case score >= 80:
		return Critical
	case score >= 60:
		return High
	case score >= 30:
		return Medium
	default:
		return Low
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	lvl, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

// Properties are the mutable security annotations of an asset. They start
// empty and are filled in after registration.
type Properties struct {
	Threats          []Threat          `json:"threats,omitempty"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	ValidationRules  []string          `json:"validation_rules,omitempty"`
	StateTransitions []string          `json:"state_transitions,omitempty"`
	ValueConstraints map[string]string `json:"value_constraints,omitempty"`
	MatchedPatterns  []string          `json:"matched_patterns,omitempty"`
	DangerousParams  []Parameter       `json:"dangerous_params,omitempty"`
	Symbolic         SymbolicHints     `json:"symbolic"`
}

// SymbolicHints carry business context for symbolic execution and targeted
// test generation. Nothing in this module checks them.
type SymbolicHints struct {
	// e.g. "controls staking operations"
	SemanticMeaning        string `json:"semantic_meaning,omitempty"`
	ComplianceRequirements string `json:"compliance_requirements,omitempty"`
	// e.g. "only the owner can call this", "recipient must be a valid ss58 address"
	BusinessRequirements []string `json:"business_requirements,omitempty"`
	// precondition -> postcondition
	ValidAssumptions map[string]string `json:"valid_assumptions,omitempty"`
}
