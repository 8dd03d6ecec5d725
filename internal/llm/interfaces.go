// Package llm provides chat-completion and embedding provider clients for
// question synthesis, memory extraction, merge, contradiction judgment, and
// batch re-scoring. All prompts are strict JSON-only templates and all
// responses are parsed leniently, since providers frequently wrap JSON in prose
// or markdown fences despite instructions.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// All engine prompts use single-string completion style (not chat history).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// EmbedBatch returns one vector per input string, in input order. A single
// batched call is used for multi-query retrieval to keep the read path to
// one network round trip.
type EmbeddingGenerator interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
}
