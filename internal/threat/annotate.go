package threat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeusData/pallet-audit/internal/llm"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/registry"
)

// Signatures lists the function-like assets of reg as signatures, in
// registration order.
func Signatures(reg *registry.Registry) []FunctionSignature {
	fns := reg.Functions()
	out := make([]FunctionSignature, 0, len(fns))
	for _, a := range fns {
		out = append(out, FunctionSignature{
			Name:       a.Name,
			Parameters: a.Category.Parameters,
			ReturnType: a.Category.ReturnType,
		})
	}
	return out
}

// Annotate scores every function in reg and writes the outcome into its
// properties: risk level, matched patterns, dangerous parameters, and one
// user-controlled-input threat per dangerous parameter. Each such threat is
// also recorded in the vulnerability index, replacing what an earlier run
// recorded for that function. Other property fields are left as they were.
// Returns the analyses, highest score first.
func Annotate(reg *registry.Registry, e *Engine) []FunctionThreatAnalysis {
	results := e.AnalyzeFunctions(Signatures(reg))
	for _, res := range results {
		name := res.Function.Name
		props, ok := reg.Properties(name)
		if !ok {
			continue
		}
		props.RiskLevel = model.RiskLevelForScore(res.RiskScore)
		props.MatchedPatterns = res.MatchedPatterns
		props.DangerousParams = res.DangerousParams
		props.Threats = nil
		reg.ClearVulnerabilities(name)
		for range res.DangerousParams {
			th := model.Threat{Name: model.UserControlledInput, HowToCheck: model.InputSanitization}
			props.Threats = append(props.Threats, th)
			reg.RecordVulnerability(name, th)
		}
		reg.SetProperties(name, props)
	}
	slog.Info("threat.annotate", "functions", len(results), "patterns", len(e.patterns))
	return results
}

const translatePrompt = `You classify security concerns in Substrate FRAME pallets.
Threat types: %s
Security checks: %s
Answer with exactly one threat type and one security check from the lists above, separated by a space.

Description: %s`

// TranslateDescription asks the model to map a free-text concern onto a
// known threat type and check. The reply is treated as opaque text and only
// scanned for known names; a reply naming no threat type is an error. When
// no check is named, the default check for the threat type is used.
func TranslateDescription(ctx context.Context, client llm.Client, description string) (model.Threat, error) {
	types := model.KnownThreatTypes()
	checks := model.KnownSecurityChecks()

	prompt := fmt.Sprintf(translatePrompt, joinNames(types), joinNames(checks), strings.TrimSpace(description))
	reply, err := client.Query(ctx, prompt)
	if err != nil {
		return model.Threat{}, fmt.Errorf("translate description: %w", err)
	}

	th := model.Threat{}
	if th.Name = firstMentioned(reply, types); th.Name == "" {
		return model.Threat{}, fmt.Errorf("translate description: no known threat type in reply %q", truncate(reply, 80))
	}
	if th.HowToCheck = firstMentioned(reply, checks); th.HowToCheck == "" {
		th.HowToCheck = model.DefaultCheck(th.Name)
	}
	return th, nil
}

// firstMentioned returns the candidate appearing earliest in text.
func firstMentioned[T ~string](text string, candidates []T) T {
	var best T
	bestIdx := -1
	for _, c := range candidates {
		idx := strings.Index(text, string(c))
		if idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = c, idx
		}
	}
	return best
}

func joinNames[T ~string](items []T) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = string(it)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
