package llm

import (
	"fmt"
	"strings"

	"github.com/pathwise/engram/pkg/types"
)

// categoryPromptDescriptions maps category IDs to brief descriptions used
// inside prompts. Kept in sync with pkg/types; these are the only categories
// the parsers accept.
var categoryPromptDescriptions = []string{
	"PREF: preference about how the assistant should interact (tone, frequency, format)",
	"PROC: trigger or situation that causes the user to procrastinate",
	"SOMA: psychosomatic pattern (physical symptom tied to emotional state)",
	"EMO: emotional trigger or recurring emotional reaction",
	"SAB: self-sabotage pattern (behavior undermining the user's own goals)",
	"EFFECTIVE: encouragement or framing technique that demonstrably worked",
}

// QuestionSynthesisPrompt builds a strict JSON-only prompt asking for 3-5
// diversified retrieval queries over the user's behavioral memory.
func QuestionSynthesisPrompt(contextStr string) string {
	return fmt.Sprintf(`TASK: Generate search queries to retrieve relevant memories about a coaching user.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

Generate 3 to 5 short, diversified search queries that would surface stored
observations relevant to the current situation. Cover different angles:
- past experience with similar situations
- stated preferences about coaching style
- emotional patterns and triggers
- encouragement techniques that worked before
- relevant life context

REQUIRED JSON STRUCTURE:
{"questions":["query one","query two","query three"]}

RULES:
1. Response starts with { and ends with }
2. "questions" is an array of 3-5 plain strings
3. Each query under 20 words
4. No duplicate queries
5. No trailing commas

CURRENT SITUATION:
%s

RESPOND WITH ONLY THE JSON OBJECT:`, contextStr)
}

// ExtractionPrompt builds a strict JSON-only prompt that extracts candidate
// memory items from conversation turns. Confidence below 0.3 means "do not
// report the pattern at all".
func ExtractionPrompt(conversation string) string {
	return fmt.Sprintf(`TASK: Extract durable behavioral observations about the USER from a coaching conversation.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

CATEGORIES (ONLY these 6):
- %s

Extract only patterns likely to persist across sessions. Skip one-off facts,
small talk, and anything about the assistant itself.

REQUIRED JSON STRUCTURE:
{"memories":[{"content":"User avoids exercise because starting feels overwhelming","category":"PROC","confidence":0.85}]}

RULES:
1. Response starts with { and ends with }
2. "memories" is an array (may be empty)
3. Each entry has exactly: content, category, confidence
4. content is one self-contained sentence starting with "User"
5. category EXACTLY one of: PREF|PROC|SOMA|EMO|SAB|EFFECTIVE
6. confidence between 0.3 and 1.0; omit patterns you are less sure about
7. No trailing commas

CONVERSATION:
%s

RESPOND WITH ONLY THE JSON OBJECT:`, strings.Join(categoryPromptDescriptions, "\n- "), conversation)
}

// MergePrompt builds a strict JSON-only prompt asking for a single merged
// observation from near-duplicate memory items.
func MergePrompt(contents []string) string {
	var b strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return fmt.Sprintf(`TASK: Merge near-duplicate observations about the same user into ONE observation.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

The observations below describe the same underlying pattern. Produce a single
sentence that preserves every specific detail (numbers, conditions, triggers)
from all of them without inventing anything new.

OBSERVATIONS:
%s
REQUIRED JSON STRUCTURE:
{"content":"merged observation","confidence":0.9}

RULES:
1. Response starts with { and ends with }
2. content is one self-contained sentence starting with "User"
3. confidence between 0.3 and 1.0 reflecting combined evidence
4. No trailing commas

RESPOND WITH ONLY THE JSON OBJECT:`, b.String())
}

// ContradictionPrompt builds a strict JSON-only prompt asking whether two
// similar same-category observations conflict, and how to resolve them.
func ContradictionPrompt(older, newer string, category types.Category) string {
	return fmt.Sprintf(`TASK: Decide whether two observations about the same user contradict each other.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

Both observations have category %s (%s).

OLDER: %s
NEWER: %s

VERDICTS (pick EXACTLY one):
- "keep_newer": they conflict and the newer one reflects the user's current state
- "keep_older": they conflict but the older one is clearly still the accurate one
- "merge": they describe the same pattern and should become one observation
- "keep_both": similar wording but genuinely different, non-conflicting patterns

REQUIRED JSON STRUCTURE:
{"verdict":"keep_newer","merged_content":""}

RULES:
1. Response starts with { and ends with }
2. verdict EXACTLY one of: keep_newer|keep_older|merge|keep_both
3. merged_content is non-empty ONLY when verdict is "merge"
4. No trailing commas

RESPOND WITH ONLY THE JSON OBJECT:`, category, category.Label(), older, newer)
}

// RescoreItem is one entry in a batch re-scoring prompt.
type RescoreItem struct {
	ID      string
	Content string
}

// RescorePrompt builds a strict JSON-only prompt asking for fresh 0-1
// importance ratings for a batch of aging memory items.
func RescorePrompt(items []RescoreItem) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- id=%s: %s\n", it.ID, it.Content)
	}
	return fmt.Sprintf(`TASK: Rate how valuable each stored observation is for personalizing future coaching.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

Rate each observation from 0.0 (worthless, generic, or stale) to 1.0
(highly specific, durable, actionable). Use the full range.

OBSERVATIONS:
%s
REQUIRED JSON STRUCTURE:
{"scores":[{"id":"mem:abc","score":0.25}]}

RULES:
1. Response starts with { and ends with }
2. One entry per observation, same ids as given
3. score between 0.0 and 1.0
4. No trailing commas

RESPOND WITH ONLY THE JSON OBJECT:`, b.String())
}
