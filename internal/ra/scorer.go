package ra

import (
	"strings"
	"unicode/utf8"
)

// Vague phrasings that leave the desired behavior open.
var vagueMarkers = []string{
	"something", "somehow", "improve", "better", "nice", "etc",
	"なんとなく", "いい感じ", "適当に", "作って", "お願い",
}

// HeuristicScorer is the default ambiguity scorer: a deterministic rating
// from text length and vague-phrase density, with no LLM involved.
type HeuristicScorer struct{}

// Score rates the text. Short texts and vague phrasing raise ambiguity;
// longer, concrete texts lower it.
func (HeuristicScorer) Score(text string) (Scores, AnalysisPath) {
	trimmed := strings.TrimSpace(text)
	runes := utf8.RuneCountInString(trimmed)

	ambiguity := 0.2
	if runes < 20 {
		ambiguity += 0.4
	} else if runes < 60 {
		ambiguity += 0.2
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range vagueMarkers {
		if strings.Contains(lower, marker) {
			ambiguity += 0.15
		}
	}
	if ambiguity > 1 {
		ambiguity = 1
	}

	sufficiency := 1 - ambiguity
	risk := ambiguity * 0.8

	scores := Scores{
		Ambiguity:          ambiguity,
		ContextSufficiency: sufficiency,
		ExecutionRisk:      risk,
	}
	switch {
	case ambiguity < 0.3:
		return scores, PathInstantPass
	case ambiguity < 0.6:
		return scores, PathAssumptionPass
	default:
		return scores, PathFullAnalysis
	}
}
