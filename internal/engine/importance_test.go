package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/pkg/types"
)

func TestScoreImportance(t *testing.T) {
	tests := []struct {
		name string
		cand llm.CandidateMemory
		want float64
	}{
		{
			name: "base rate only",
			cand: llm.CandidateMemory{Content: "User dislikes vague praise", Category: types.CategorySoma, Confidence: 0.5},
			want: 0.4,
		},
		{
			name: "high confidence bonus",
			cand: llm.CandidateMemory{Content: "User dislikes vague praise", Category: types.CategorySoma, Confidence: 0.8},
			want: 0.5,
		},
		{
			name: "medium confidence bonus",
			cand: llm.CandidateMemory{Content: "User dislikes vague praise", Category: types.CategorySoma, Confidence: 0.7},
			want: 0.45,
		},
		{
			name: "specific trigger word",
			cand: llm.CandidateMemory{Content: "User procrastinates when tasks feel ambiguous", Category: types.CategoryProc, Confidence: 0.5},
			want: 0.6,
		},
		{
			name: "habitual always marker",
			cand: llm.CandidateMemory{Content: "User always skips breakfast on deadline days", Category: types.CategoryProc, Confidence: 0.5},
			want: 0.6,
		},
		{
			name: "habitual never marker",
			cand: llm.CandidateMemory{Content: "User never responds to guilt framing", Category: types.CategoryProc, Confidence: 0.5},
			want: 0.6,
		},
		{
			name: "numeric detail",
			cand: llm.CandidateMemory{Content: "User works best in 25 minute blocks", Category: types.CategoryPref, Confidence: 0.5},
			want: 0.8,
		},
		{
			name: "clamped at one",
			cand: llm.CandidateMemory{
				Content:    "User responds well to reminders framed around their stated goal of running a marathon in under 4 hours every spring",
				Category:   types.CategoryEffective,
				Confidence: 0.95,
			},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ScoreImportance(tt.cand), 1e-9)
		})
	}
}

func TestScoreImportanceNoFalseWordMatch(t *testing.T) {
	// "shift" contains "if" but is not a trigger word.
	cand := llm.CandidateMemory{Content: "User dreads the late shift", Category: types.CategoryEmo, Confidence: 0.5}
	assert.InDelta(t, 0.5, ScoreImportance(cand), 1e-9)
}

func TestMergeBoost(t *testing.T) {
	assert.InDelta(t, 0.5, MergeBoost(0.5, 1), 1e-9)
	assert.InDelta(t, 0.6, MergeBoost(0.5, 2), 1e-9)
	assert.InDelta(t, 0.8, MergeBoost(0.5, 4), 1e-9)
	assert.InDelta(t, 1.0, MergeBoost(0.9, 3), 1e-9)
}
