package engine

import (
	"context"
	"fmt"

	"github.com/pathwise/engram/internal/llm"
)

// Extractor pulls durable behavioral observations out of conversation text.
// Unlike retrieval, extraction has no degraded mode: a provider failure is
// reported to the caller, who can retry the consolidation later with the
// same transcript.
type Extractor struct {
	text    llm.TextGenerator
	breaker *llm.CircuitBreaker
}

// NewExtractor creates an extractor backed by the given generator.
func NewExtractor(text llm.TextGenerator, breaker *llm.CircuitBreaker) *Extractor {
	return &Extractor{text: text, breaker: breaker}
}

// Extract returns the candidate observations found in the conversation.
// An empty slice is a valid result: not every conversation reveals a
// durable pattern.
func (e *Extractor) Extract(ctx context.Context, conversation string) ([]llm.CandidateMemory, error) {
	if e.text == nil {
		return nil, fmt.Errorf("engine: no text generation provider configured")
	}

	result, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.text.Complete(ctx, llm.ExtractionPrompt(conversation))
	})
	if err != nil {
		return nil, fmt.Errorf("engine: extraction failed: %w", err)
	}

	candidates, err := llm.ParseExtractionResponse(result.(string))
	if err != nil {
		return nil, fmt.Errorf("engine: extraction response unusable: %w", err)
	}
	return candidates, nil
}
