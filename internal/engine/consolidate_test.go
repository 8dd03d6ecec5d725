package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

func storedItem(t *testing.T, store *fakeStore, id string, category types.Category, content string, embedding []float32, ageDays int) {
	t.Helper()
	item := &types.MemoryItem{
		ID:                id,
		OwnerID:           "owner-a",
		Content:           content,
		Category:          category,
		Confidence:        0.6,
		ImportanceScore:   0.5,
		Embedding:         embedding,
		CreatedAt:         time.Now().UTC().AddDate(0, 0, -ageDays),
		CompressionStatus: types.StatusActive,
	}
	require.NoError(t, store.Insert(context.Background(), item))
}

func newTestConsolidator(store *fakeStore, text *fakeText) *Consolidator {
	return NewConsolidator(store, text, llm.NewCircuitBreaker("test"), nil, nil)
}

func TestConsolidateMergesDuplicatesIntoOldest(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:old", types.CategoryPref, "User prefers short replies", axisVec(1), 20)
	storedItem(t, store, "mem:new", types.CategoryPref, "User likes brief answers", axisVec(1), 5)
	storedItem(t, store, "mem:other", types.CategoryPref, "User wants evening check-ins", axisVec(2), 10)

	text := &fakeText{complete: func(prompt string) (string, error) {
		require.Contains(t, prompt, "Merge near-duplicate")
		return `{"content":"User prefers short, brief replies","confidence":0.8}`, nil
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", types.CategoryPref)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Deleted)
	assert.Zero(t, result.Errors)

	survivor := store.item("owner-a", "mem:old")
	require.NotNil(t, survivor)
	assert.Equal(t, "User prefers short, brief replies", survivor.Content)
	assert.Equal(t, []string{"mem:new"}, survivor.MergedFrom)
	assert.InDelta(t, 0.8, survivor.Confidence, 1e-9)
	assert.InDelta(t, 0.6, survivor.ImportanceScore, 1e-9)

	assert.Nil(t, store.item("owner-a", "mem:new"))
	assert.NotNil(t, store.item("owner-a", "mem:other"))
}

func TestConsolidateContradictionKeepNewer(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:old", types.CategoryPref, "User prefers fewer check-ins", axisVec(0), 20)
	storedItem(t, store, "mem:new", types.CategoryPref, "User asked for more frequent check-ins", blendVec(0.75), 2)

	text := &fakeText{complete: func(prompt string) (string, error) {
		require.Contains(t, prompt, "contradict")
		return `{"verdict":"keep_newer","merged_content":""}`, nil
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", types.CategoryPref)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ContradictionsResolved)
	assert.Equal(t, 1, result.Compressed)
	assert.Zero(t, result.Deleted)

	loser := store.item("owner-a", "mem:old")
	require.NotNil(t, loser)
	assert.Equal(t, types.StatusCompressed, loser.CompressionStatus)
	assert.Equal(t, "mem:new", loser.SupersededBy)

	winner := store.item("owner-a", "mem:new")
	require.NotNil(t, winner)
	assert.Equal(t, types.StatusActive, winner.CompressionStatus)
}

func TestConsolidateContradictionMergeVerdict(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:old", types.CategoryEmo, "User feels anxious before deadlines", axisVec(0), 20)
	storedItem(t, store, "mem:new", types.CategoryEmo, "User worries when deadlines approach", blendVec(0.75), 2)

	text := &fakeText{complete: func(prompt string) (string, error) {
		return `{"verdict":"merge","merged_content":"User feels anxious as deadlines approach"}`, nil
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", types.CategoryEmo)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ContradictionsResolved)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Deleted)

	survivor := store.item("owner-a", "mem:old")
	require.NotNil(t, survivor)
	assert.Equal(t, "User feels anxious as deadlines approach", survivor.Content)
	assert.Equal(t, []string{"mem:new"}, survivor.MergedFrom)
	assert.Nil(t, store.item("owner-a", "mem:new"))
}

func TestConsolidateKeepBothLeavesItems(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:old", types.CategoryPref, "User prefers morning sessions", axisVec(0), 20)
	storedItem(t, store, "mem:new", types.CategoryPref, "User prefers morning workouts", blendVec(0.75), 2)

	text := &fakeText{complete: func(prompt string) (string, error) {
		return `{"verdict":"keep_both","merged_content":""}`, nil
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", types.CategoryPref)
	require.NoError(t, err)
	assert.Zero(t, result.ContradictionsResolved)
	assert.Zero(t, result.Merged)
	assert.Equal(t, 2, store.count("owner-a"))
}

func TestConsolidateLLMFailureLeavesDuplicates(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:old", types.CategoryPref, "User prefers short replies", axisVec(1), 20)
	storedItem(t, store, "mem:new", types.CategoryPref, "User likes brief answers", axisVec(1), 5)

	text := &fakeText{complete: func(string) (string, error) {
		return "", errors.New("provider down")
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", types.CategoryPref)
	require.NoError(t, err)
	assert.Zero(t, result.Merged)
	assert.Zero(t, result.Deleted)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 2, store.count("owner-a"))
}

func TestConsolidateTokenOverlapFallback(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:old", types.CategoryEmo, "User feels anxious before deadlines", nil, 20)
	storedItem(t, store, "mem:new", types.CategoryEmo, "User feels anxious when deadlines approach", nil, 5)

	text := &fakeText{complete: func(prompt string) (string, error) {
		require.Contains(t, prompt, "Merge near-duplicate")
		return `{"content":"User feels anxious before and around deadlines","confidence":0.7}`, nil
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", types.CategoryEmo)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
	assert.Nil(t, store.item("owner-a", "mem:new"))
}

func TestConsolidateAllCategoriesWhenUnscoped(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:p1", types.CategoryPref, "User prefers short replies", axisVec(1), 20)
	storedItem(t, store, "mem:p2", types.CategoryPref, "User likes brief answers", axisVec(1), 5)
	storedItem(t, store, "mem:e1", types.CategoryEmo, "User feels anxious before deadlines", axisVec(2), 20)
	storedItem(t, store, "mem:e2", types.CategoryEmo, "User worries near deadlines", axisVec(2), 5)

	text := &fakeText{complete: func(prompt string) (string, error) {
		if strings.Contains(prompt, "anxious") {
			return `{"content":"User feels anxious near deadlines","confidence":0.7}`, nil
		}
		return `{"content":"User prefers short, brief replies","confidence":0.7}`, nil
	}}
	c := newTestConsolidator(store, text)

	result, err := c.ConsolidateOwner(context.Background(), "owner-a", "")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 2, result.Merged)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 2, store.count("owner-a"))
}

func TestConsolidateInvalidInput(t *testing.T) {
	c := newTestConsolidator(newFakeStore(), &fakeText{})

	_, err := c.ConsolidateOwner(context.Background(), "", types.CategoryPref)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = c.ConsolidateOwner(context.Background(), "owner-a", types.Category("BOGUS"))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCompactionConsolidatesBeforeRescoring(t *testing.T) {
	store := newFakeStore()
	storedItem(t, store, "mem:dup1", types.CategoryPref, "User prefers short replies", axisVec(1), 20)
	storedItem(t, store, "mem:dup2", types.CategoryPref, "User likes brief answers", axisVec(1), 10)

	text := &fakeText{complete: func(prompt string) (string, error) {
		require.Contains(t, prompt, "Merge near-duplicate")
		return `{"content":"User prefers short, brief replies","confidence":0.8}`, nil
	}}
	c := NewCompactor(store, text, llm.NewCircuitBreaker("test"), nil, compactConfig())

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, report.Deleted)
	assert.Zero(t, report.Errors)

	survivor := store.item("owner-a", "mem:dup1")
	require.NotNil(t, survivor)
	assert.Equal(t, []string{"mem:dup2"}, survivor.MergedFrom)
}
