package engine

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/pkg/types"
)

// Embedder batches embedding calls and caches query vectors. Retrieval
// queries repeat heavily across sessions (the synthesizer produces similar
// phrasings for similar situations), so an LRU over query text saves most of
// the embedding round trips on the read path.
type Embedder struct {
	gen     llm.EmbeddingGenerator
	breaker *llm.CircuitBreaker
	cache   *lru.Cache[string, []float32]
}

// NewEmbedder creates an embedder with an LRU cache of cacheSize entries.
func NewEmbedder(gen llm.EmbeddingGenerator, breaker *llm.CircuitBreaker, cacheSize int) (*Embedder, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: create embedding cache: %w", err)
	}
	return &Embedder{gen: gen, breaker: breaker, cache: cache}, nil
}

// EmbedQueries returns one vector per text, in input order, serving cache
// hits locally and fetching only the misses in a single batched call.
func (e *Embedder) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			vectors[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	fetched, err := e.embedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, v := range fetched {
		i := missingIdx[j]
		vectors[i] = v
		e.cache.Add(texts[i], v)
	}
	return vectors, nil
}

// EmbedOne embeds a single text. Used on the write path, where content is
// unique and not worth caching.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.gen == nil {
		return nil, fmt.Errorf("engine: no embedding provider configured")
	}

	result, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.gen.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("engine: embed batch: %w", err)
	}

	vectors := result.([][]float32)
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("engine: embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != types.EmbeddingDim {
			return nil, fmt.Errorf("engine: embedding %d has %d dimensions, want %d", i, len(v), types.EmbeddingDim)
		}
	}
	return vectors, nil
}
