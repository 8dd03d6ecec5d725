package engine

import (
	"math"
	"sort"

	"github.com/pathwise/engram/internal/storage"
)

// scoreTieEpsilon is the fused-score distance at or below which two results
// are considered tied and ranked by importance instead.
const scoreTieEpsilon = 0.01

// RankedMemory is one fused retrieval result.
type RankedMemory struct {
	storage.SearchHit

	// TagLabel is the human-readable category label.
	TagLabel string `json:"tag_label"`

	// FusedScore is the reciprocal-rank-fusion score across all query lists.
	FusedScore float64 `json:"fused_score"`
}

// FuseResults merges per-query hit lists with reciprocal rank fusion: each
// appearance at rank r (1-based) contributes 1/r, so items surfaced by
// several queries outrank items surfaced once. Fused scores within
// scoreTieEpsilon of each other count as tied and break by importance
// descending, then by id. The candidate slice is ordered by id before the
// rank sort so identical inputs always fuse to the same ordering; the tie
// comparator is not transitive across a chain of near-ties, so the sort
// needs a fixed starting order to be reproducible.
func FuseResults(lists [][]storage.SearchHit, limit int) []RankedMemory {
	fused := make(map[string]*RankedMemory)

	for _, hits := range lists {
		for rank, hit := range hits {
			entry, ok := fused[hit.MemoryID]
			if !ok {
				entry = &RankedMemory{SearchHit: hit, TagLabel: hit.Category.Label()}
				fused[hit.MemoryID] = entry
			}
			entry.FusedScore += 1.0 / float64(rank+1)
			// Keep the best similarity seen across query lists.
			if hit.Similarity > entry.Similarity {
				entry.Similarity = hit.Similarity
			}
		}
	}

	results := make([]RankedMemory, 0, len(fused))
	for _, entry := range fused {
		results = append(results, *entry)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].MemoryID < results[j].MemoryID
	})

	sort.SliceStable(results, func(i, j int) bool {
		if math.Abs(results[i].FusedScore-results[j].FusedScore) > scoreTieEpsilon {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].ImportanceScore != results[j].ImportanceScore {
			return results[i].ImportanceScore > results[j].ImportanceScore
		}
		return false
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
