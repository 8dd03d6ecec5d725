package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise/engram/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "clean object",
			input: `{"questions":["a"]}`,
			want:  `{"questions":["a"]}`,
		},
		{
			name:  "markdown fenced",
			input: "```json\n{\"questions\":[\"a\"]}\n```",
			want:  `{"questions":["a"]}`,
		},
		{
			name:  "prose before and after",
			input: `Sure! Here is the JSON: {"verdict":"merge"} Hope that helps.`,
			want:  `{"verdict":"merge"}`,
		},
		{
			name:  "braces inside strings",
			input: `{"content":"User said \"wow {cool}\" today"}`,
			want:  `{"content":"User said \"wow {cool}\" today"}`,
		},
		{
			name:  "nested objects",
			input: `text {"a":{"b":1}} trailing`,
			want:  `{"a":{"b":1}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.input))
		})
	}
}

func TestParseQuestionResponse(t *testing.T) {
	questions, err := ParseQuestionResponse(`{"questions":["past struggles with deadlines","preferred coaching tone","past struggles with deadlines",""]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"past struggles with deadlines", "preferred coaching tone"}, questions)
}

func TestParseQuestionResponseMalformed(t *testing.T) {
	_, err := ParseQuestionResponse(`I cannot help with that.`)
	assert.Error(t, err)

	_, err = ParseQuestionResponse(`{"questions":[]}`)
	assert.Error(t, err)
}

func TestParseExtractionResponse(t *testing.T) {
	raw := `{"memories":[
		{"content":"User feels anxious before deadlines","category":"EMO","confidence":0.85},
		{"content":"User likes brevity","category":"NOPE","confidence":0.9},
		{"content":"User responds well to streak tracking","category":"EFFECTIVE","confidence":0.2},
		{"content":"","category":"PREF","confidence":0.8},
		{"content":"User overcommits then cancels","category":"SAB","confidence":1.5}
	]}`
	memories, err := ParseExtractionResponse(raw)
	require.NoError(t, err)
	require.Len(t, memories, 2)

	assert.Equal(t, types.CategoryEmo, memories[0].Category)
	assert.Equal(t, 0.85, memories[0].Confidence)

	// Confidence 0.2 is below the extractor floor and gets raised, not dropped.
	assert.Equal(t, types.CategoryEffective, memories[1].Category)
	assert.Equal(t, types.MinConfidence, memories[1].Confidence)
}

func TestParseExtractionResponseEmpty(t *testing.T) {
	memories, err := ParseExtractionResponse(`{"memories":[]}`)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestParseMergeResponse(t *testing.T) {
	result, err := ParseMergeResponse("```json\n{\"content\":\"User gets anxious as deadlines approach\",\"confidence\":0.9}\n```")
	require.NoError(t, err)
	assert.Equal(t, "User gets anxious as deadlines approach", result.Content)
	assert.Equal(t, 0.9, result.Confidence)

	_, err = ParseMergeResponse(`{"content":"  ","confidence":0.9}`)
	assert.Error(t, err)
}

func TestParseVerdictResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Verdict
		wantErr bool
	}{
		{"keep newer", `{"verdict":"keep_newer"}`, VerdictKeepNewer, false},
		{"keep older", `{"verdict":"keep_older","merged_content":""}`, VerdictKeepOlder, false},
		{"keep both", `{"verdict":"keep_both"}`, VerdictKeepBoth, false},
		{"merge with content", `{"verdict":"merge","merged_content":"User wants daily check-ins"}`, VerdictMerge, false},
		{"merge without content", `{"verdict":"merge","merged_content":" "}`, "", true},
		{"unknown verdict", `{"verdict":"delete_both"}`, "", true},
		{"not json", `keep the newer one`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseVerdictResponse(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Verdict)
		})
	}
}

func TestParseRescoreResponse(t *testing.T) {
	raw := `{"scores":[
		{"id":"mem:a","score":0.15},
		{"id":"mem:b","score":0.55},
		{"id":"","score":0.4},
		{"id":"mem:c","score":1.4}
	]}`
	scores, err := ParseRescoreResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"mem:a": 0.15, "mem:b": 0.55}, scores)
}
