package llm

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/pathwise/engram/pkg/types"
)

// questionResponse is the expected shape of a question synthesis response.
type questionResponse struct {
	Questions []string `json:"questions"`
}

// CandidateMemory is a single extracted observation before persistence.
type CandidateMemory struct {
	Content    string         `json:"content"`
	Category   types.Category `json:"category"`
	Confidence float64        `json:"confidence"`
}

// extractionResponse is the expected shape of an extraction response.
type extractionResponse struct {
	Memories []CandidateMemory `json:"memories"`
}

// MergeResult is the parsed output of a merge prompt.
type MergeResult struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// Verdict classifies a pair of similar same-category observations.
type Verdict string

const (
	VerdictKeepNewer Verdict = "keep_newer"
	VerdictKeepOlder Verdict = "keep_older"
	VerdictMerge     Verdict = "merge"
	VerdictKeepBoth  Verdict = "keep_both"
)

// VerdictResult is the parsed output of a contradiction prompt.
type VerdictResult struct {
	Verdict       Verdict `json:"verdict"`
	MergedContent string  `json:"merged_content"`
}

// rescoreResponse is the expected shape of a batch re-scoring response.
type rescoreResponse struct {
	Scores []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

// extractJSON extracts the first balanced JSON object from a string that may
// contain extra text. LLMs add explanations and markdown fences around JSON
// despite instructions, so every parser goes through this first.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}

// ParseQuestionResponse parses a question synthesis response into a list of
// non-empty, deduplicated queries. Returns an error only when the JSON itself
// is malformed or yields zero usable queries.
func ParseQuestionResponse(raw string) ([]string, error) {
	var resp questionResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse question JSON: %w", err)
	}

	seen := make(map[string]bool, len(resp.Questions))
	var questions []string
	for _, q := range resp.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("question response contained no usable queries")
	}
	return questions, nil
}

// ParseExtractionResponse parses an extraction response and filters out
// invalid entries. Unknown categories and out-of-range confidence values are
// skipped rather than failing the batch; confidence is clamped to the
// extractor range. Only malformed JSON is an error.
func ParseExtractionResponse(raw string) ([]CandidateMemory, error) {
	var resp extractionResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	var valid []CandidateMemory
	for _, m := range resp.Memories {
		m.Content = strings.TrimSpace(m.Content)
		if m.Content == "" {
			continue
		}
		if !types.IsValidCategory(m.Category) {
			log.Printf("response_parser: skipping extracted memory with unknown category %q", m.Category)
			continue
		}
		if m.Confidence < 0 || m.Confidence > 1 {
			log.Printf("response_parser: skipping extracted memory with invalid confidence %f", m.Confidence)
			continue
		}
		m.Confidence = types.ClampConfidence(m.Confidence)
		valid = append(valid, m)
	}
	return valid, nil
}

// ParseMergeResponse parses a merge response. The merged content must be
// non-empty; confidence is clamped to the extractor range.
func ParseMergeResponse(raw string) (*MergeResult, error) {
	var resp MergeResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse merge JSON: %w", err)
	}
	resp.Content = strings.TrimSpace(resp.Content)
	if resp.Content == "" {
		return nil, fmt.Errorf("merge response contained empty content")
	}
	resp.Confidence = types.ClampConfidence(resp.Confidence)
	return &resp, nil
}

// ParseVerdictResponse parses a contradiction verdict. A "merge" verdict
// without merged content is invalid, since the caller has nothing to write.
func ParseVerdictResponse(raw string) (*VerdictResult, error) {
	var resp VerdictResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}

	switch resp.Verdict {
	case VerdictKeepNewer, VerdictKeepOlder, VerdictKeepBoth:
	case VerdictMerge:
		if strings.TrimSpace(resp.MergedContent) == "" {
			return nil, fmt.Errorf("merge verdict without merged_content")
		}
	default:
		return nil, fmt.Errorf("unknown verdict %q", resp.Verdict)
	}
	return &resp, nil
}

// ParseRescoreResponse parses a batch re-scoring response into an id → score
// map. Out-of-range scores and unknown shapes are skipped; only malformed
// JSON is an error.
func ParseRescoreResponse(raw string) (map[string]float64, error) {
	var resp rescoreResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse rescore JSON: %w", err)
	}

	scores := make(map[string]float64, len(resp.Scores))
	for _, s := range resp.Scores {
		if s.ID == "" {
			continue
		}
		if s.Score < 0 || s.Score > 1 {
			log.Printf("response_parser: skipping rescore for %s with invalid score %f", s.ID, s.Score)
			continue
		}
		scores[s.ID] = s.Score
	}
	return scores, nil
}
