package engine

import (
	"context"
	"log"
	"strings"

	"github.com/pathwise/engram/internal/llm"
)

// maxQueries caps the number of retrieval queries per request, whatever
// their source.
const maxQueries = 5

// minSeedQueries is the seed count at which the LLM call is skipped: the
// caller already provided enough diversified queries.
const minSeedQueries = 3

// Synthesizer turns the caller's situation description into diversified
// retrieval queries. It never returns an error: when the LLM is unavailable
// the seeds (or the raw context as a single query) are used directly, so a
// provider outage degrades retrieval quality instead of failing the read.
type Synthesizer struct {
	text    llm.TextGenerator
	breaker *llm.CircuitBreaker
}

// NewSynthesizer creates a query synthesizer backed by the given generator.
func NewSynthesizer(text llm.TextGenerator, breaker *llm.CircuitBreaker) *Synthesizer {
	return &Synthesizer{text: text, breaker: breaker}
}

// Synthesize returns 1 to 5 retrieval queries for the given context.
func (s *Synthesizer) Synthesize(ctx context.Context, contextStr string, seeds []string) []string {
	seeds = cleanQueries(seeds)
	if len(seeds) >= minSeedQueries {
		return capQueries(seeds)
	}

	if s.text != nil {
		result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
			return s.text.Complete(ctx, llm.QuestionSynthesisPrompt(contextStr))
		})
		if err == nil {
			questions, parseErr := llm.ParseQuestionResponse(result.(string))
			if parseErr == nil {
				return capQueries(questions)
			}
			log.Printf("engine: question synthesis parse failed, using fallback: %v", parseErr)
		} else {
			log.Printf("engine: question synthesis failed, using fallback: %v", err)
		}
	}

	if len(seeds) > 0 {
		return capQueries(seeds)
	}
	return []string{strings.TrimSpace(contextStr)}
}

func cleanQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

func capQueries(queries []string) []string {
	if len(queries) > maxQueries {
		return queries[:maxQueries]
	}
	return queries
}
