package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// Similarity thresholds for the write path. At or above duplicateSimilarity
// two observations are the same pattern and get merged; between
// contradictionSimilarity and duplicateSimilarity they are similar enough
// that a conflict is possible and an LLM verdict decides.
const (
	duplicateSimilarity     = 0.85
	contradictionSimilarity = 0.7

	// duplicateJaccard is the token-overlap fallback threshold used when no
	// embedding is available for the candidate.
	duplicateJaccard = 0.4
)

// ResolveAction describes what the resolver did with a candidate.
type ResolveAction string

const (
	// ActionInserted means the candidate was stored as a new item.
	ActionInserted ResolveAction = "inserted"

	// ActionMerged means the candidate was folded into an existing item.
	ActionMerged ResolveAction = "merged"

	// ActionSuperseded means the candidate replaced a contradicting older
	// item, which was compressed and linked to the new one.
	ActionSuperseded ResolveAction = "superseded"

	// ActionDropped means the candidate was discarded because the stored
	// observation is still the accurate one.
	ActionDropped ResolveAction = "dropped"
)

// ResolveOutcome reports the action taken and the surviving item's id
// (empty when the candidate was dropped).
type ResolveOutcome struct {
	Action   ResolveAction
	MemoryID string
}

// Resolver decides how a newly extracted observation enters the store:
// as a fresh item, merged into a near-duplicate, or replacing a
// contradicted older observation. All comparisons are within one owner and
// one category.
type Resolver struct {
	store    storage.Store
	text     llm.TextGenerator
	breaker  *llm.CircuitBreaker
	embedder *Embedder
}

// NewResolver creates a resolver over the given store and providers.
func NewResolver(store storage.Store, text llm.TextGenerator, breaker *llm.CircuitBreaker, embedder *Embedder) *Resolver {
	return &Resolver{store: store, text: text, breaker: breaker, embedder: embedder}
}

// Resolve stores the candidate according to its relationship with existing
// items. A nil embedding triggers the token-overlap fallback for duplicate
// detection; contradiction detection requires an embedding.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, cand llm.CandidateMemory, embedding []float32, taskContext string) (*ResolveOutcome, error) {
	existing, similarity, err := r.findMostSimilar(ctx, ownerID, cand, embedding)
	if err != nil {
		return nil, err
	}

	switch {
	case existing == nil:
		return r.insert(ctx, ownerID, cand, embedding, taskContext)

	case similarity >= duplicateSimilarity:
		return r.merge(ctx, ownerID, existing, cand, embedding, taskContext)

	case len(embedding) > 0 && similarity >= contradictionSimilarity:
		return r.resolveContradiction(ctx, ownerID, existing, cand, embedding, taskContext)

	default:
		return r.insert(ctx, ownerID, cand, embedding, taskContext)
	}
}

// findMostSimilar returns the most similar active same-category item, or nil
// when nothing crosses the relevant floor. With an embedding, all three
// tiers are searched: deduplication spans the whole store, unlike retrieval.
func (r *Resolver) findMostSimilar(ctx context.Context, ownerID string, cand llm.CandidateMemory, embedding []float32) (*types.MemoryItem, float64, error) {
	if len(embedding) == 0 {
		return r.findByTokenOverlap(ctx, ownerID, cand)
	}

	var bestID string
	var bestSim float64
	for _, tier := range []types.Tier{types.TierHot, types.TierWarm, types.TierCold} {
		lists, err := r.store.VectorSearch(ctx, storage.VectorSearchParams{
			OwnerID:       ownerID,
			Queries:       [][]float32{embedding},
			Tier:          tier,
			Category:      cand.Category,
			Threshold:     contradictionSimilarity,
			PerQueryLimit: 1,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("engine: duplicate search (%s tier): %w", tier, err)
		}
		for _, hit := range lists[0] {
			if hit.Similarity > bestSim {
				bestSim = hit.Similarity
				bestID = hit.MemoryID
			}
		}
	}

	if bestID == "" {
		return nil, 0, nil
	}
	item, err := r.store.Get(ctx, ownerID, bestID)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: load similar item %s: %w", bestID, err)
	}
	return item, bestSim, nil
}

func (r *Resolver) findByTokenOverlap(ctx context.Context, ownerID string, cand llm.CandidateMemory) (*types.MemoryItem, float64, error) {
	items, err := r.store.ListActiveByCategory(ctx, ownerID, cand.Category)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: list category items: %w", err)
	}

	var best *types.MemoryItem
	var bestOverlap float64
	for _, item := range items {
		overlap := tokenJaccard(item.Content, cand.Content)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = item
		}
	}
	if best == nil || bestOverlap < duplicateJaccard {
		return nil, 0, nil
	}
	// Token overlap only supports duplicate detection; report it at the
	// duplicate floor so the caller takes the merge path.
	return best, duplicateSimilarity, nil
}

func (r *Resolver) insert(ctx context.Context, ownerID string, cand llm.CandidateMemory, embedding []float32, taskContext string) (*ResolveOutcome, error) {
	item := &types.MemoryItem{
		ID:                newMemoryID(),
		OwnerID:           ownerID,
		Content:           cand.Content,
		Category:          cand.Category,
		Confidence:        cand.Confidence,
		ImportanceScore:   ScoreImportance(cand),
		Embedding:         embedding,
		TaskContext:       taskContext,
		CompressionStatus: types.StatusActive,
	}
	if err := r.store.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("engine: insert memory: %w", err)
	}
	return &ResolveOutcome{Action: ActionInserted, MemoryID: item.ID}, nil
}

// merge folds the candidate into the existing (older) item. The LLM combines
// the two phrasings; when it is unavailable or unparseable the candidate is
// inserted unmerged instead. Duplicates are tolerated; a merge without an
// explicit merged content would silently discard the candidate's details.
func (r *Resolver) merge(ctx context.Context, ownerID string, existing *types.MemoryItem, cand llm.CandidateMemory, embedding []float32, taskContext string) (*ResolveOutcome, error) {
	result, err := r.breaker.Execute(ctx, func() (interface{}, error) {
		return r.text.Complete(ctx, llm.MergePrompt([]string{existing.Content, cand.Content}))
	})
	if err != nil {
		log.Printf("engine: merge completion failed, inserting unmerged: %v", err)
		return r.insert(ctx, ownerID, cand, embedding, taskContext)
	}
	merged, parseErr := llm.ParseMergeResponse(result.(string))
	if parseErr != nil {
		log.Printf("engine: merge response unusable, inserting unmerged: %v", parseErr)
		return r.insert(ctx, ownerID, cand, embedding, taskContext)
	}

	content := merged.Content
	confidence := maxFloat(maxFloat(existing.Confidence, cand.Confidence), merged.Confidence)
	sources := len(existing.MergedFrom) + 2
	importance := MergeBoost(maxFloat(existing.ImportanceScore, ScoreImportance(cand)), sources)
	contentChanged := content != existing.Content
	// The absorbed candidate never reaches the store, but its lineage entry
	// does: it records that a second observation corroborated this item.
	absorbedID := newMemoryID()

	updateErr := updateWithRetry(ctx, r.store, existing, func(item *types.MemoryItem) {
		item.Content = content
		item.Confidence = maxFloat(item.Confidence, confidence)
		item.ImportanceScore = importance
		item.MergedFrom = append(item.MergedFrom, absorbedID)
		if contentChanged {
			r.refreshEmbedding(ctx, item)
		}
	})
	if updateErr != nil {
		return nil, updateErr
	}
	return &ResolveOutcome{Action: ActionMerged, MemoryID: existing.ID}, nil
}

// resolveContradiction asks the LLM whether the similar pair conflicts.
// When the provider is unavailable both observations are kept; dropping or
// rewriting stored memories requires an explicit verdict.
func (r *Resolver) resolveContradiction(ctx context.Context, ownerID string, existing *types.MemoryItem, cand llm.CandidateMemory, embedding []float32, taskContext string) (*ResolveOutcome, error) {
	result, err := r.breaker.Execute(ctx, func() (interface{}, error) {
		return r.text.Complete(ctx, llm.ContradictionPrompt(existing.Content, cand.Content, cand.Category))
	})
	if err != nil {
		log.Printf("engine: contradiction check failed, keeping both: %v", err)
		return r.insert(ctx, ownerID, cand, embedding, taskContext)
	}

	verdict, parseErr := llm.ParseVerdictResponse(result.(string))
	if parseErr != nil {
		log.Printf("engine: contradiction verdict unusable, keeping both: %v", parseErr)
		return r.insert(ctx, ownerID, cand, embedding, taskContext)
	}

	switch verdict.Verdict {
	case llm.VerdictKeepNewer:
		outcome, err := r.insert(ctx, ownerID, cand, embedding, taskContext)
		if err != nil {
			return nil, err
		}
		if err := r.store.SetStatus(ctx, ownerID, existing.ID, types.StatusCompressed, outcome.MemoryID); err != nil {
			return nil, fmt.Errorf("engine: supersede %s: %w", existing.ID, err)
		}
		return &ResolveOutcome{Action: ActionSuperseded, MemoryID: outcome.MemoryID}, nil

	case llm.VerdictKeepOlder:
		return &ResolveOutcome{Action: ActionDropped, MemoryID: ""}, nil

	case llm.VerdictMerge:
		sources := len(existing.MergedFrom) + 2
		importance := MergeBoost(maxFloat(existing.ImportanceScore, ScoreImportance(cand)), sources)
		absorbedID := newMemoryID()
		err := updateWithRetry(ctx, r.store, existing, func(item *types.MemoryItem) {
			item.Content = verdict.MergedContent
			item.Confidence = maxFloat(item.Confidence, cand.Confidence)
			item.ImportanceScore = importance
			item.MergedFrom = append(item.MergedFrom, absorbedID)
			r.refreshEmbedding(ctx, item)
		})
		if err != nil {
			return nil, err
		}
		return &ResolveOutcome{Action: ActionMerged, MemoryID: existing.ID}, nil

	default: // keep_both
		return r.insert(ctx, ownerID, cand, embedding, taskContext)
	}
}

// updateWithRetry applies mutate under optimistic concurrency, re-reading
// and retrying once on a version conflict.
func updateWithRetry(ctx context.Context, store storage.Store, item *types.MemoryItem, mutate func(*types.MemoryItem)) error {
	mutate(item)
	err := store.Update(ctx, item, item.Version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrVersionConflict) {
		return fmt.Errorf("engine: update memory %s: %w", item.ID, err)
	}

	fresh, getErr := store.Get(ctx, item.OwnerID, item.ID)
	if getErr != nil {
		return fmt.Errorf("engine: reload after version conflict on %s: %w", item.ID, getErr)
	}
	mutate(fresh)
	if err := store.Update(ctx, fresh, fresh.Version); err != nil {
		return fmt.Errorf("engine: update memory %s after retry: %w", item.ID, err)
	}
	*item = *fresh
	return nil
}

// refreshEmbedding re-embeds the item's content after a merge rewrote it.
// Failure keeps the previous embedding; a slightly stale vector still beats
// no vector.
func (r *Resolver) refreshEmbedding(ctx context.Context, item *types.MemoryItem) {
	if r.embedder == nil {
		return
	}
	vector, err := r.embedder.EmbedOne(ctx, item.Content)
	if err != nil {
		log.Printf("engine: re-embedding merged content for %s failed: %v", item.ID, err)
		return
	}
	item.Embedding = vector
}

// tokenJaccard computes the Jaccard index of the two contents' lowercase
// token sets.
func tokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[field] = true
	}
	return set
}

func newMemoryID() string {
	return "mem:" + uuid.NewString()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
