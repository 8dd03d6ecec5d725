package engine

import (
	"strings"
	"unicode"

	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/pkg/types"
)

// specificityMarkers are trigger words whose presence suggests the
// observation names a concrete condition rather than a vague tendency.
var specificityMarkers = []string{
	"when", "after", "before", "during", "every", "if", "whenever",
	"always", "never",
}

// ScoreImportance assigns an initial importance score to an extracted
// observation. The rule is deliberately cheap: category base rate, plus
// bonuses for extractor confidence, concrete detail, and length. LLM-based
// scoring only happens later, during compaction re-scoring.
func ScoreImportance(c llm.CandidateMemory) float64 {
	score := c.Category.BaseImportance()

	switch {
	case c.Confidence >= 0.8:
		score += 0.1
	case c.Confidence >= 0.7:
		score += 0.05
	}

	if hasSpecificDetail(c.Content) {
		score += 0.1
	}
	if len(c.Content) > 100 {
		score += 0.05
	}

	return types.Clamp01(score)
}

// MergeBoost raises an importance score when several observations corroborate
// the same pattern: +0.1 per extra source, capped at 1.0.
func MergeBoost(base float64, sources int) float64 {
	if sources < 2 {
		return types.Clamp01(base)
	}
	return types.Clamp01(base + 0.1*float64(sources-1))
}

// hasSpecificDetail reports whether content carries a number or a named
// trigger condition.
func hasSpecificDetail(content string) bool {
	for _, r := range content {
		if unicode.IsDigit(r) {
			return true
		}
	}
	lower := strings.ToLower(content)
	for _, marker := range specificityMarkers {
		if containsWord(lower, marker) {
			return true
		}
	}
	return false
}

// containsWord reports whether word appears in text on word boundaries, so
// "if" does not match inside "shift".
func containsWord(text, word string) bool {
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if field == word {
			return true
		}
	}
	return false
}
