package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// scriptedSearcher returns canned hit lists per tier and records which tiers
// were queried.
type scriptedSearcher struct {
	byTier  map[types.Tier][][]storage.SearchHit
	errs    map[types.Tier]error
	queried []types.Tier
}

func (s *scriptedSearcher) VectorSearch(_ context.Context, params storage.VectorSearchParams) ([][]storage.SearchHit, error) {
	s.queried = append(s.queried, params.Tier)
	if err := s.errs[params.Tier]; err != nil {
		return nil, err
	}
	lists := s.byTier[params.Tier]
	if lists == nil {
		lists = make([][]storage.SearchHit, len(params.Queries))
	}
	return lists, nil
}

func catHit(id string, similarity float64, category types.Category) storage.SearchHit {
	return storage.SearchHit{MemoryID: id, Similarity: similarity, Category: category}
}

func TestSearchStopsAtHotWithEnoughResults(t *testing.T) {
	searcher := &scriptedSearcher{byTier: map[types.Tier][][]storage.SearchHit{
		types.TierHot: {{
			catHit("mem:a", 0.65, types.CategoryPref),
			catHit("mem:b", 0.64, types.CategoryPref),
			catHit("mem:c", 0.63, types.CategoryPref),
		}},
	}}

	lists, tier, err := NewTieredSearcher(searcher).Search(context.Background(), storage.VectorSearchParams{
		OwnerID: "owner-a",
		Queries: [][]float32{axisVec(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, tier)
	assert.Equal(t, []types.Tier{types.TierHot}, searcher.queried)
	assert.Len(t, lists[0], 3)
}

func TestSearchStopsAtHotWithStrongMatch(t *testing.T) {
	searcher := &scriptedSearcher{byTier: map[types.Tier][][]storage.SearchHit{
		types.TierHot: {{catHit("mem:a", 0.75, types.CategoryPref)}},
	}}

	_, tier, err := NewTieredSearcher(searcher).Search(context.Background(), storage.VectorSearchParams{
		OwnerID: "owner-a",
		Queries: [][]float32{axisVec(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, tier)
	assert.Equal(t, []types.Tier{types.TierHot}, searcher.queried)
}

func TestSearchStopsAtHotWithCategorySpread(t *testing.T) {
	searcher := &scriptedSearcher{byTier: map[types.Tier][][]storage.SearchHit{
		types.TierHot: {{
			catHit("mem:a", 0.62, types.CategoryPref),
			catHit("mem:b", 0.61, types.CategoryEmo),
		}},
	}}

	_, tier, err := NewTieredSearcher(searcher).Search(context.Background(), storage.VectorSearchParams{
		OwnerID: "owner-a",
		Queries: [][]float32{axisVec(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, tier)
}

func TestSearchEscalatesToWarm(t *testing.T) {
	searcher := &scriptedSearcher{byTier: map[types.Tier][][]storage.SearchHit{
		types.TierHot:  {{catHit("mem:hot", 0.62, types.CategoryPref)}},
		types.TierWarm: {{catHit("mem:warm", 0.68, types.CategoryPref)}},
	}}

	lists, tier, err := NewTieredSearcher(searcher).Search(context.Background(), storage.VectorSearchParams{
		OwnerID: "owner-a",
		Queries: [][]float32{axisVec(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierWarm, tier)
	assert.Equal(t, []types.Tier{types.TierHot, types.TierWarm}, searcher.queried)

	// Hot hits come before warm hits within each query list.
	require.Len(t, lists[0], 2)
	assert.Equal(t, "mem:hot", lists[0][0].MemoryID)
	assert.Equal(t, "mem:warm", lists[0][1].MemoryID)
}

func TestSearchNeverQueriesCold(t *testing.T) {
	searcher := &scriptedSearcher{byTier: map[types.Tier][][]storage.SearchHit{}}

	_, tier, err := NewTieredSearcher(searcher).Search(context.Background(), storage.VectorSearchParams{
		OwnerID: "owner-a",
		Queries: [][]float32{axisVec(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierWarm, tier)
	assert.NotContains(t, searcher.queried, types.TierCold)
}

func TestSearchWarmFailureKeepsHotResults(t *testing.T) {
	searcher := &scriptedSearcher{
		byTier: map[types.Tier][][]storage.SearchHit{
			types.TierHot: {{catHit("mem:hot", 0.62, types.CategoryPref)}},
		},
		errs: map[types.Tier]error{types.TierWarm: errors.New("backend down")},
	}

	lists, tier, err := NewTieredSearcher(searcher).Search(context.Background(), storage.VectorSearchParams{
		OwnerID: "owner-a",
		Queries: [][]float32{axisVec(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, tier)
	require.Len(t, lists[0], 1)
	assert.Equal(t, "mem:hot", lists[0][0].MemoryID)
}

func TestIsSufficient(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]storage.SearchHit
		want  bool
	}{
		{"empty", nil, false},
		{"two weak same-category hits", [][]storage.SearchHit{{
			catHit("mem:a", 0.62, types.CategoryPref),
			catHit("mem:b", 0.61, types.CategoryPref),
		}}, false},
		{"three distinct hits", [][]storage.SearchHit{
			{catHit("mem:a", 0.62, types.CategoryPref)},
			{catHit("mem:b", 0.61, types.CategoryPref)},
			{catHit("mem:c", 0.6, types.CategoryPref)},
		}, true},
		{"same item across lists is one result", [][]storage.SearchHit{
			{catHit("mem:a", 0.62, types.CategoryPref)},
			{catHit("mem:a", 0.61, types.CategoryPref)},
			{catHit("mem:a", 0.6, types.CategoryPref)},
		}, false},
		{"single strong match", [][]storage.SearchHit{{
			catHit("mem:a", 0.7, types.CategoryPref),
		}}, true},
		{"two categories", [][]storage.SearchHit{{
			catHit("mem:a", 0.62, types.CategoryPref),
			catHit("mem:b", 0.61, types.CategorySab),
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSufficient(tt.lists))
		})
	}
}
