package engine

import (
	"context"
	"log"

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// Sufficiency thresholds for the hot tier. When hot results meet any of
// these, the warm tier is skipped entirely.
const (
	minSufficientResults   = 3
	sufficientSimilarity   = 0.7
	sufficientCategorySpan = 2
)

// TieredSearcher runs vector search hot-first and escalates to warm only
// when the hot results are insufficient. The cold tier is never queried on
// the read path; cold items resurface only after compaction or a direct
// access boosts them back into a window.
type TieredSearcher struct {
	searcher storage.VectorSearcher
}

// NewTieredSearcher creates a tiered searcher over the given backend.
func NewTieredSearcher(searcher storage.VectorSearcher) *TieredSearcher {
	return &TieredSearcher{searcher: searcher}
}

// Search returns one hit list per query vector and the deepest tier reached.
// When escalation happens, each query's warm hits are appended after its hot
// hits so fusion ranks preserve the hot-first preference.
func (t *TieredSearcher) Search(ctx context.Context, params storage.VectorSearchParams) ([][]storage.SearchHit, types.Tier, error) {
	params.Tier = types.TierHot
	hotLists, err := t.searcher.VectorSearch(ctx, params)
	if err != nil {
		return nil, types.TierHot, err
	}

	if isSufficient(hotLists) {
		return hotLists, types.TierHot, nil
	}

	params.Tier = types.TierWarm
	warmLists, err := t.searcher.VectorSearch(ctx, params)
	if err != nil {
		// Hot results are still usable; degrade rather than fail the read.
		log.Printf("engine: warm tier search failed, returning hot results only: %v", err)
		return hotLists, types.TierHot, nil
	}

	combined := make([][]storage.SearchHit, len(hotLists))
	for i := range hotLists {
		combined[i] = append(combined[i], hotLists[i]...)
		if i < len(warmLists) {
			combined[i] = append(combined[i], warmLists[i]...)
		}
	}
	return combined, types.TierWarm, nil
}

// isSufficient reports whether hot-tier results alone can answer the query:
// enough distinct hits, or at least one strong match, or coverage across
// multiple behavioral categories.
func isSufficient(lists [][]storage.SearchHit) bool {
	distinct := make(map[string]bool)
	categories := make(map[types.Category]bool)
	for _, hits := range lists {
		for _, hit := range hits {
			distinct[hit.MemoryID] = true
			categories[hit.Category] = true
			if hit.Similarity >= sufficientSimilarity {
				return true
			}
		}
	}
	return len(distinct) >= minSufficientResults || len(categories) >= sufficientCategorySpan
}
