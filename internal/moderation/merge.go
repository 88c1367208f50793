package moderation

import "sort"

// MaxMergedRules caps how many matched-rule names a merged result carries,
// bounding response and audit-row size.
const MaxMergedRules = 5

// Merge combines any number of stage results into one decision:
//
//   - safe is the logical AND over all inputs,
//   - severity is the maximum by ordinal rank,
//   - categories are the set union,
//   - per-category confidence is the maximum observed for that category,
//   - rule names are the union, capped at MaxMergedRules.
//
// Unions are sorted so the outcome is independent of input order; keeping the
// smallest rule names under the cap keeps the cap order-insensitive too.
// Merging no results yields the safe verdict.
func Merge(results ...Result) Result {
	merged := Result{Safe: true, Severity: SeveritySafe}

	catSet := make(map[Category]struct{})
	conf := make(map[Category]float64)
	ruleSet := make(map[string]struct{})
	noteSet := make(map[string]struct{})

	for _, r := range results {
		merged.Safe = merged.Safe && r.Safe
		if r.Severity > merged.Severity {
			merged.Severity = r.Severity
		}
		for _, c := range r.Categories {
			catSet[c] = struct{}{}
		}
		for c, v := range r.Confidence {
			if v > conf[c] {
				conf[c] = v
			}
		}
		for _, rule := range r.Rules {
			ruleSet[rule] = struct{}{}
		}
		for _, note := range r.Notes {
			noteSet[note] = struct{}{}
		}
	}

	merged.Categories = sortedCategories(catSet)
	if len(conf) > 0 {
		merged.Confidence = conf
	}
	if rules := sortedStrings(ruleSet); len(rules) > 0 {
		if len(rules) > MaxMergedRules {
			rules = rules[:MaxMergedRules]
		}
		merged.Rules = rules
	}
	if notes := sortedStrings(noteSet); len(notes) > 0 {
		merged.Notes = notes
	}
	return merged
}

func sortedCategories(set map[Category]struct{}) []Category {
	out := make([]Category, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedStrings(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
