package engine

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/time/rate"

	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// ConsolidateResult summarizes one per-owner consolidation pass.
type ConsolidateResult struct {
	// Processed counts active items examined.
	Processed int `json:"processed"`

	// Merged counts items folded into an older near-duplicate.
	Merged int `json:"merged"`

	// Deleted counts items removed after their content was absorbed.
	Deleted int `json:"deleted"`

	// Compressed counts contradiction losers retired from retrieval.
	Compressed int `json:"compressed"`

	// ContradictionsResolved counts similar pairs that received a verdict
	// other than keep_both.
	ContradictionsResolved int `json:"contradictions_resolved"`

	Errors int `json:"errors"`
}

func (r *ConsolidateResult) add(other ConsolidateResult) {
	r.Processed += other.Processed
	r.Merged += other.Merged
	r.Deleted += other.Deleted
	r.Compressed += other.Compressed
	r.ContradictionsResolved += other.ContradictionsResolved
	r.Errors += other.Errors
}

// Consolidator runs the batch cleanup pass over an owner's stored items:
// near-duplicates within a category are merged into the oldest match, and
// similar-but-distinct pairs are checked for contradictions. Unlike the
// write-path resolver, which handles one incoming candidate, the
// consolidator compares stored items against each other.
type Consolidator struct {
	store    storage.Store
	text     llm.TextGenerator
	breaker  *llm.CircuitBreaker
	embedder *Embedder

	// limiter bounds LLM spend when the pass runs inside the compaction
	// sweep. Nil means no throttle.
	limiter *rate.Limiter
}

// NewConsolidator creates a consolidator over the given store and providers.
func NewConsolidator(store storage.Store, text llm.TextGenerator, breaker *llm.CircuitBreaker, embedder *Embedder, limiter *rate.Limiter) *Consolidator {
	return &Consolidator{store: store, text: text, breaker: breaker, embedder: embedder, limiter: limiter}
}

// ConsolidateOwner cleans up one owner's items. With a zero category every
// category is processed. Per-category failures are counted and the pass
// continues.
func (c *Consolidator) ConsolidateOwner(ctx context.Context, ownerID string, category types.Category) (*ConsolidateResult, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}

	categories := []types.Category{category}
	if category == "" {
		categories = types.AllCategories()
	} else if !types.IsValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidInput, category)
	}

	// Merging and contradiction verdicts both need the LLM. Without one the
	// pass is a no-op rather than a blind rewrite of stored memories.
	if c.text == nil {
		log.Printf("engine: consolidation skipped for %s, no text generation provider", ownerID)
		return &ConsolidateResult{}, nil
	}

	result := &ConsolidateResult{}
	for _, cat := range categories {
		catResult, err := c.consolidateCategory(ctx, ownerID, cat)
		if err != nil {
			log.Printf("engine: consolidating %s/%s: %v", ownerID, cat, err)
			result.Errors++
			continue
		}
		result.add(*catResult)
	}
	return result, nil
}

func (c *Consolidator) consolidateCategory(ctx context.Context, ownerID string, category types.Category) (*ConsolidateResult, error) {
	items, err := c.store.ListActiveByCategory(ctx, ownerID, category)
	if err != nil {
		return nil, err
	}

	result := &ConsolidateResult{Processed: len(items)}
	if len(items) < 2 {
		return result, nil
	}

	// Items arrive oldest first, so items[i] is always the older of a pair
	// and the merge target.
	retired := make(map[string]bool)

	for i := 0; i < len(items); i++ {
		if retired[items[i].ID] {
			continue
		}
		var cluster []*types.MemoryItem
		for j := i + 1; j < len(items); j++ {
			if retired[items[j].ID] {
				continue
			}
			if sim, embedded := itemSimilarity(items[i], items[j]); embedded && sim >= duplicateSimilarity {
				cluster = append(cluster, items[j])
			} else if !embedded && sim >= duplicateJaccard {
				cluster = append(cluster, items[j])
			}
		}
		if len(cluster) == 0 {
			continue
		}
		if err := c.mergeCluster(ctx, items[i], cluster); err != nil {
			log.Printf("engine: merging duplicates of %s: %v", items[i].ID, err)
			result.Errors++
			continue
		}
		for _, member := range cluster {
			retired[member.ID] = true
		}
		result.Merged += len(cluster)
		result.Deleted += len(cluster)
	}

	for i := 0; i < len(items); i++ {
		if retired[items[i].ID] {
			continue
		}
		for j := i + 1; j < len(items); j++ {
			if retired[items[i].ID] || retired[items[j].ID] {
				continue
			}
			sim, embedded := itemSimilarity(items[i], items[j])
			if !embedded || sim < contradictionSimilarity || sim >= duplicateSimilarity {
				continue
			}
			c.resolvePair(ctx, items[i], items[j], retired, result)
		}
	}
	return result, nil
}

// itemSimilarity compares two stored items, preferring embeddings and
// falling back to token overlap. The bool reports which scale the score is
// on: token Jaccard runs lower than cosine and supports duplicate detection
// only.
func itemSimilarity(a, b *types.MemoryItem) (float64, bool) {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return storage.CosineSimilarity(a.Embedding, b.Embedding), true
	}
	return tokenJaccard(a.Content, b.Content), false
}

// mergeCluster folds the cluster members into the oldest item. One LLM call
// combines all phrasings; without a usable response the cluster is left
// alone, since deleting items whose details were never absorbed loses data.
func (c *Consolidator) mergeCluster(ctx context.Context, oldest *types.MemoryItem, cluster []*types.MemoryItem) error {
	contents := make([]string, 0, len(cluster)+1)
	contents = append(contents, oldest.Content)
	confidence := oldest.Confidence
	importance := oldest.ImportanceScore
	for _, member := range cluster {
		contents = append(contents, member.Content)
		confidence = maxFloat(confidence, member.Confidence)
		importance = maxFloat(importance, member.ImportanceScore)
	}

	if err := c.waitLimiter(ctx); err != nil {
		return err
	}
	completion, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.text.Complete(ctx, llm.MergePrompt(contents))
	})
	if err != nil {
		return fmt.Errorf("merge completion: %w", err)
	}
	merged, err := llm.ParseMergeResponse(completion.(string))
	if err != nil {
		return fmt.Errorf("merge response: %w", err)
	}

	sources := len(oldest.MergedFrom) + len(cluster) + 1
	newImportance := MergeBoost(importance, sources)
	updateErr := updateWithRetry(ctx, c.store, oldest, func(item *types.MemoryItem) {
		item.Content = merged.Content
		item.Confidence = maxFloat(confidence, merged.Confidence)
		item.ImportanceScore = newImportance
		for _, member := range cluster {
			item.MergedFrom = append(item.MergedFrom, member.ID)
		}
		c.refreshEmbedding(ctx, item)
	})
	if updateErr != nil {
		return updateErr
	}

	for _, member := range cluster {
		if err := c.store.Delete(ctx, member.OwnerID, member.ID); err != nil {
			return fmt.Errorf("delete absorbed item %s: %w", member.ID, err)
		}
	}
	return nil
}

// resolvePair asks for a contradiction verdict on a similar older/newer
// pair. LLM failure leaves both items untouched.
func (c *Consolidator) resolvePair(ctx context.Context, older, newer *types.MemoryItem, retired map[string]bool, result *ConsolidateResult) {
	if err := c.waitLimiter(ctx); err != nil {
		result.Errors++
		return
	}
	completion, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.text.Complete(ctx, llm.ContradictionPrompt(older.Content, newer.Content, older.Category))
	})
	if err != nil {
		log.Printf("engine: contradiction check for %s vs %s failed, keeping both: %v", older.ID, newer.ID, err)
		return
	}
	verdict, parseErr := llm.ParseVerdictResponse(completion.(string))
	if parseErr != nil {
		log.Printf("engine: contradiction verdict for %s vs %s unusable, keeping both: %v", older.ID, newer.ID, parseErr)
		return
	}

	switch verdict.Verdict {
	case llm.VerdictKeepNewer:
		if err := c.store.SetStatus(ctx, older.OwnerID, older.ID, types.StatusCompressed, newer.ID); err != nil {
			log.Printf("engine: compress %s: %v", older.ID, err)
			result.Errors++
			return
		}
		retired[older.ID] = true
		result.Compressed++
		result.ContradictionsResolved++

	case llm.VerdictKeepOlder:
		if err := c.store.SetStatus(ctx, newer.OwnerID, newer.ID, types.StatusCompressed, older.ID); err != nil {
			log.Printf("engine: compress %s: %v", newer.ID, err)
			result.Errors++
			return
		}
		retired[newer.ID] = true
		result.Compressed++
		result.ContradictionsResolved++

	case llm.VerdictMerge:
		sources := len(older.MergedFrom) + 2
		newImportance := MergeBoost(maxFloat(older.ImportanceScore, newer.ImportanceScore), sources)
		err := updateWithRetry(ctx, c.store, older, func(item *types.MemoryItem) {
			item.Content = verdict.MergedContent
			item.Confidence = maxFloat(item.Confidence, newer.Confidence)
			item.ImportanceScore = newImportance
			item.MergedFrom = append(item.MergedFrom, newer.ID)
			c.refreshEmbedding(ctx, item)
		})
		if err != nil {
			log.Printf("engine: merging contradiction pair into %s: %v", older.ID, err)
			result.Errors++
			return
		}
		if err := c.store.Delete(ctx, newer.OwnerID, newer.ID); err != nil {
			log.Printf("engine: delete absorbed item %s: %v", newer.ID, err)
			result.Errors++
			return
		}
		retired[newer.ID] = true
		result.Merged++
		result.Deleted++
		result.ContradictionsResolved++

	default: // keep_both
	}
}

func (c *Consolidator) refreshEmbedding(ctx context.Context, item *types.MemoryItem) {
	if c.embedder == nil {
		return
	}
	vector, err := c.embedder.EmbedOne(ctx, item.Content)
	if err != nil {
		log.Printf("engine: re-embedding merged content for %s failed: %v", item.ID, err)
		return
	}
	item.Embedding = vector
}

func (c *Consolidator) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
