// Package threat scores function signatures against substring-matching
// threat patterns and writes the results back into a registry.
package threat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/DeusData/pallet-audit/internal/model"
)

// MaxRiskScore bounds ThreatPattern.RiskScore.
const MaxRiskScore = 100

// ThreatPattern is a per-run matching rule. Unlike model.Threat it says
// nothing about how to check anything, only what looks suspicious.
type ThreatPattern struct {
	Name              string   `yaml:"name" json:"name"`
	FunctionPatterns  []string `yaml:"function_patterns" json:"function_patterns"`
	ParameterPatterns []string `yaml:"parameter_patterns" json:"parameter_patterns"`
	RiskScore         uint8    `yaml:"risk_score" json:"risk_score"`
}

// FunctionSignature is the engine's view of a callable.
type FunctionSignature struct {
	Name       string            `json:"name"`
	Parameters []model.Parameter `json:"parameters"`
	ReturnType string            `json:"return_type,omitempty"`
}

// FunctionThreatAnalysis is the result of scoring one signature.
type FunctionThreatAnalysis struct {
	Function        FunctionSignature `json:"function"`
	RiskScore       uint8             `json:"risk_score"`
	DangerousParams []model.Parameter `json:"dangerous_params"`
	MatchedPatterns []string          `json:"matched_patterns"`
}

// Engine holds an ordered list of patterns.
type Engine struct {
	patterns []ThreatPattern
}

// NewEngine validates and copies patterns.
func NewEngine(patterns []ThreatPattern) (*Engine, error) {
	for i, p := range patterns {
		if p.RiskScore > MaxRiskScore {
			return nil, fmt.Errorf("pattern %d (%q): risk score %d exceeds %d", i, p.Name, p.RiskScore, MaxRiskScore)
		}
	}
	ps := make([]ThreatPattern, len(patterns))
	copy(ps, patterns)
	return &Engine{patterns: ps}, nil
}

// Patterns returns the engine's patterns in order.
func (e *Engine) Patterns() []ThreatPattern {
	out := make([]ThreatPattern, len(e.patterns))
	copy(out, e.patterns)
	return out
}

// AnalyzeFunction scores sig. Matching is a case-sensitive substring test.
//
// The score is the highest RiskScore among patterns whose function patterns
// hit the name; parameter hits flag parameters but never raise the score. A
// parameter is listed once per matching parameter pattern entry.
func (e *Engine) AnalyzeFunction(sig FunctionSignature) FunctionThreatAnalysis {
	res := FunctionThreatAnalysis{
		Function:        sig,
		DangerousParams: []model.Parameter{},
		MatchedPatterns: []string{},
	}

	for _, p := range e.patterns {
		for _, fp := range p.FunctionPatterns {
			if !strings.Contains(sig.Name, fp) {
				continue
			}
			res.RiskScore = max(res.RiskScore, p.RiskScore)
			res.MatchedPatterns = append(res.MatchedPatterns, "Function name matches pattern: "+fp)
		}
	}

	for _, param := range sig.Parameters {
		for _, p := range e.patterns {
			for _, pp := range p.ParameterPatterns {
				if !strings.Contains(param.Type, pp) {
					continue
				}
				res.DangerousParams = append(res.DangerousParams, param)
				res.MatchedPatterns = append(res.MatchedPatterns,
					fmt.Sprintf("Parameter %s matches pattern: %s", param.Name, pp))
			}
		}
	}
	return res
}

// AnalyzeFunctions scores every signature and orders the results by
// descending score. Equal scores keep input order.
func (e *Engine) AnalyzeFunctions(sigs []FunctionSignature) []FunctionThreatAnalysis {
	out := make([]FunctionThreatAnalysis, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, e.AnalyzeFunction(s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	return out
}

// DefaultPatterns is a starter set for FRAME pallets.
func DefaultPatterns() []ThreatPattern {
	return []ThreatPattern{
		{
			Name:              "value-transfer",
			FunctionPatterns:  []string{"transfer", "withdraw", "deposit", "send"},
			ParameterPatterns: []string{"Balance", "Currency"},
			RiskScore:         80,
		},
		{
			Name:              "privileged",
			FunctionPatterns:  []string{"sudo", "force_", "set_owner", "set_admin", "upgrade"},
			ParameterPatterns: []string{"Origin"},
			RiskScore:         90,
		},
		{
			Name:              "supply",
			FunctionPatterns:  []string{"mint", "burn", "slash"},
			ParameterPatterns: []string{"u128", "u64"},
			RiskScore:         70,
		},
		{
			Name:              "unbounded-input",
			FunctionPatterns:  []string{"set_", "register", "submit"},
			ParameterPatterns: []string{"Vec<", "BoundedVec<"},
			RiskScore:         40,
		},
	}
}
