package engine

import "github.com/TimurManjosov/tgforwarder/internal/rules"

// MatchRules returns the active rules listening on source whose tree
// matches msg, in input order, plus the diagnostics of every evaluated rule
// tagged with its rule id. An empty source matches rules of every source.
func MatchRules(candidates []rules.FilterRule, source string, msg MessageRecord) ([]rules.FilterRule, []Diagnostic) {
	matched := make([]rules.FilterRule, 0, len(candidates))
	var diags []Diagnostic
	for _, rule := range candidates {
		if !rule.IsActive {
			continue
		}
		if source != "" && rule.Source != source {
			continue
		}
		ok, ruleDiags := EvaluateWithDiagnostics(rule.Filters, msg)
		for _, d := range ruleDiags {
			d.RuleID = rule.ID
			diags = append(diags, d)
		}
		if ok {
			matched = append(matched, rule)
		}
	}
	return matched, diags
}
