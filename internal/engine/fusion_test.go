package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

func hit(id string, similarity, importance float64) storage.SearchHit {
	return storage.SearchHit{MemoryID: id, Similarity: similarity, ImportanceScore: importance}
}

func TestFuseResultsReciprocalRank(t *testing.T) {
	lists := [][]storage.SearchHit{
		{hit("mem:a", 0.9, 0.5), hit("mem:b", 0.8, 0.5)},
		{hit("mem:b", 0.85, 0.5), hit("mem:c", 0.7, 0.5)},
	}

	results := FuseResults(lists, 10)
	require.Len(t, results, 3)

	// b appears at rank 2 and rank 1: 1/2 + 1/1 = 1.5, ahead of a (1.0).
	assert.Equal(t, "mem:b", results[0].MemoryID)
	assert.InDelta(t, 1.5, results[0].FusedScore, 1e-9)
	assert.Equal(t, "mem:a", results[1].MemoryID)
	assert.InDelta(t, 1.0, results[1].FusedScore, 1e-9)
	assert.Equal(t, "mem:c", results[2].MemoryID)
	assert.InDelta(t, 0.5, results[2].FusedScore, 1e-9)
}

func TestFuseResultsKeepsBestSimilarity(t *testing.T) {
	lists := [][]storage.SearchHit{
		{hit("mem:a", 0.65, 0.5)},
		{hit("mem:a", 0.92, 0.5)},
	}

	results := FuseResults(lists, 10)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.92, results[0].Similarity, 1e-9)
}

func TestFuseResultsTieBreaksByImportanceThenID(t *testing.T) {
	// Same rank in disjoint lists: identical fused scores.
	lists := [][]storage.SearchHit{
		{hit("mem:low", 0.8, 0.3)},
		{hit("mem:high", 0.8, 0.9)},
		{hit("mem:also-low", 0.8, 0.3)},
	}

	results := FuseResults(lists, 10)
	require.Len(t, results, 3)
	assert.Equal(t, "mem:high", results[0].MemoryID)
	// Equal score and importance fall back to id order.
	assert.Equal(t, "mem:also-low", results[1].MemoryID)
	assert.Equal(t, "mem:low", results[2].MemoryID)
}

func TestFuseResultsNearTieChainDeterministic(t *testing.T) {
	// Deep ranks in a single list produce fused scores where neighbor pairs
	// are within the tie margin (1/10 vs 1/11, 1/11 vs 1/12) but the ends
	// are not (1/10 vs 1/12). The ordering must come out identical on every
	// call despite the map accumulation step.
	deep := make([]storage.SearchHit, 12)
	for i := range deep {
		deep[i] = hit("mem:pad-"+string(rune('a'+i)), 0.9, 0.1)
	}
	deep[9] = hit("mem:x", 0.8, 0.2)
	deep[10] = hit("mem:y", 0.8, 0.5)
	deep[11] = hit("mem:z", 0.8, 0.9)
	lists := [][]storage.SearchHit{deep}

	first := FuseResults(lists, 12)
	require.Len(t, first, 12)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, FuseResults(lists, 12))
	}
}

func TestFuseResultsTagLabel(t *testing.T) {
	h := hit("mem:a", 0.9, 0.5)
	h.Category = types.CategoryProc
	results := FuseResults([][]storage.SearchHit{{h}}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "Procrastination trigger", results[0].TagLabel)
}

func TestFuseResultsDeterministic(t *testing.T) {
	lists := [][]storage.SearchHit{
		{hit("mem:a", 0.8, 0.4), hit("mem:b", 0.75, 0.6)},
		{hit("mem:c", 0.8, 0.4), hit("mem:a", 0.7, 0.4)},
		{hit("mem:d", 0.8, 0.4)},
	}

	first := FuseResults(lists, 10)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FuseResults(lists, 10))
	}
}

func TestFuseResultsLimit(t *testing.T) {
	lists := [][]storage.SearchHit{
		{hit("mem:a", 0.9, 0.5), hit("mem:b", 0.8, 0.5), hit("mem:c", 0.7, 0.5)},
	}

	results := FuseResults(lists, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "mem:a", results[0].MemoryID)
}

func TestFuseResultsEmpty(t *testing.T) {
	assert.Empty(t, FuseResults(nil, 5))
	assert.Empty(t, FuseResults([][]storage.SearchHit{{}, {}}, 5))
}
