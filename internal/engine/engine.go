// Package engine implements the behavioral memory engine: the retrieval
// pipeline (query synthesis, batched embedding, tiered vector search,
// reciprocal rank fusion, async access tracking) and the consolidation
// pipeline (extraction, importance scoring, duplicate and contradiction
// resolution, background compaction).
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pathwise/engram/internal/config"
	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// MemoryEngine is the top-level facade the HTTP server and the sweep binary
// drive. It owns one circuit breaker per provider concern, so an embedding
// outage does not trip completion calls or vice versa.
type MemoryEngine struct {
	store        storage.Store
	cfg          *config.Config
	synthesizer  *Synthesizer
	embedder     *Embedder
	searcher     *TieredSearcher
	tracker      *AccessTracker
	extractor    *Extractor
	resolver     *Resolver
	consolidator *Consolidator
	compactor    *Compactor
}

// NewMemoryEngine wires an engine over the given store and providers.
// embedGen may be nil (provider without embedding support); retrieval then
// returns empty results and deduplication falls back to token overlap.
func NewMemoryEngine(store storage.Store, text llm.TextGenerator, embedGen llm.EmbeddingGenerator, cfg *config.Config) (*MemoryEngine, error) {
	completionBreaker := llm.NewCircuitBreaker("llm-completion")
	embeddingBreaker := llm.NewCircuitBreaker("llm-embedding")

	embedder, err := NewEmbedder(embedGen, embeddingBreaker, cfg.Retrieval.EmbeddingCacheSize)
	if err != nil {
		return nil, err
	}

	return &MemoryEngine{
		store:        store,
		cfg:          cfg,
		synthesizer:  NewSynthesizer(text, completionBreaker),
		embedder:     embedder,
		searcher:     NewTieredSearcher(store),
		tracker:      NewAccessTracker(store),
		extractor:    NewExtractor(text, completionBreaker),
		resolver:     NewResolver(store, text, completionBreaker, embedder),
		consolidator: NewConsolidator(store, text, completionBreaker, embedder, nil),
		compactor:    NewCompactor(store, text, completionBreaker, embedder, cfg.Compact),
	}, nil
}

// RetrievalRequest describes one read-path call.
type RetrievalRequest struct {
	OwnerID string `json:"owner_id"`

	// Context is the current situation the assistant wants memories for.
	Context string `json:"context"`

	// SeedQueries optionally skip LLM synthesis when three or more are given.
	SeedQueries []string `json:"seed_queries,omitempty"`

	// Limit caps the fused result list (default from configuration).
	Limit int `json:"limit,omitempty"`
}

// RetrievalResult is the fused, ranked outcome of one retrieval.
type RetrievalResult struct {
	Memories []RankedMemory `json:"memories"`

	// Queries are the retrieval queries actually used.
	Queries []string `json:"queries"`

	// TierSearched is the deepest tier consulted (hot or warm).
	TierSearched types.Tier `json:"tier_searched"`
}

// RetrieveMemories runs the read path. Provider outages degrade to an empty
// result rather than an error: the assistant can always proceed without
// memories, it just personalizes less.
func (e *MemoryEngine) RetrieveMemories(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Context) == "" && len(req.SeedQueries) == 0 {
		return nil, fmt.Errorf("%w: context or seed queries required", storage.ErrInvalidInput)
	}

	queries := e.synthesizer.Synthesize(ctx, req.Context, req.SeedQueries)

	result := &RetrievalResult{
		Memories:     []RankedMemory{},
		Queries:      queries,
		TierSearched: types.TierHot,
	}

	vectors, err := e.embedder.EmbedQueries(ctx, queries)
	if err != nil {
		log.Printf("engine: query embedding failed, returning no memories: %v", err)
		return result, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.Retrieval.DefaultLimit
	}

	lists, tier, err := e.searcher.Search(ctx, storage.VectorSearchParams{
		OwnerID:       req.OwnerID,
		Queries:       vectors,
		Threshold:     e.cfg.Retrieval.SimilarityThreshold,
		PerQueryLimit: e.cfg.Retrieval.PerQueryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: tiered search: %w", err)
	}

	result.TierSearched = tier
	result.Memories = FuseResults(lists, limit)

	ids := make([]string, len(result.Memories))
	for i, m := range result.Memories {
		ids[i] = m.MemoryID
	}
	e.tracker.MarkAccessed(req.OwnerID, ids)

	return result, nil
}

// ExtractRequest describes one write-path call.
type ExtractRequest struct {
	OwnerID string `json:"owner_id"`

	// Conversation is the transcript to extract observations from.
	Conversation string `json:"conversation"`

	// TaskContext optionally records what the user was working on.
	TaskContext string `json:"task_context,omitempty"`
}

// ExtractResult reports what happened to each extracted candidate.
type ExtractResult struct {
	Extracted  int      `json:"extracted"`
	Inserted   int      `json:"inserted"`
	Merged     int      `json:"merged"`
	Superseded int      `json:"superseded"`
	Dropped    int      `json:"dropped"`
	Errors     int      `json:"errors"`
	MemoryIDs  []string `json:"memory_ids"`
}

// ExtractAndStore runs the write path: extraction, then per-candidate
// resolution against the existing store. Extraction failure fails the call
// (the transcript can be resubmitted); per-candidate failures are counted
// and the rest of the batch proceeds.
func (e *MemoryEngine) ExtractAndStore(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Conversation) == "" {
		return nil, fmt.Errorf("%w: conversation is required", storage.ErrInvalidInput)
	}

	candidates, err := e.extractor.Extract(ctx, req.Conversation)
	if err != nil {
		return nil, err
	}

	result := &ExtractResult{Extracted: len(candidates), MemoryIDs: []string{}}
	for _, cand := range candidates {
		embedding, embedErr := e.embedder.EmbedOne(ctx, cand.Content)
		if embedErr != nil {
			log.Printf("engine: embedding candidate failed, using token-overlap dedup: %v", embedErr)
			embedding = nil
		}

		outcome, resolveErr := e.resolver.Resolve(ctx, req.OwnerID, cand, embedding, req.TaskContext)
		if resolveErr != nil {
			log.Printf("engine: resolving candidate failed: %v", resolveErr)
			result.Errors++
			continue
		}

		switch outcome.Action {
		case ActionInserted:
			result.Inserted++
		case ActionMerged:
			result.Merged++
		case ActionSuperseded:
			result.Superseded++
		case ActionDropped:
			result.Dropped++
		}
		if outcome.MemoryID != "" {
			result.MemoryIDs = append(result.MemoryIDs, outcome.MemoryID)
		}
	}
	return result, nil
}

// Consolidate runs the on-demand cleanup pass for one owner: near-duplicate
// merging and contradiction resolution over stored items, optionally scoped
// to one category.
func (e *MemoryEngine) Consolidate(ctx context.Context, ownerID string, category types.Category) (*ConsolidateResult, error) {
	return e.consolidator.ConsolidateOwner(ctx, ownerID, category)
}

// CompactAll runs one compaction sweep over the least-recently-updated
// owners.
func (e *MemoryEngine) CompactAll(ctx context.Context) (*CompactionReport, error) {
	return e.compactor.Run(ctx)
}

// Stats returns stored item counts for one owner.
func (e *MemoryEngine) Stats(ctx context.Context, ownerID string) (*storage.OwnerStats, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}
	return e.store.Stats(ctx, ownerID)
}

// Ping verifies the backing store is reachable.
func (e *MemoryEngine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Close drains in-flight access writes and closes the store.
func (e *MemoryEngine) Close() error {
	e.tracker.Wait()
	return e.store.Close()
}
