package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pathwise/engram/internal/config"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// fakeText is a scripted completion provider.
type fakeText struct {
	mu       sync.Mutex
	complete func(prompt string) (string, error)
	prompts  []string
}

func (f *fakeText) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.complete(prompt)
}

func (f *fakeText) GetModel() string { return "fake-completion" }

func (f *fakeText) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeEmbed is a scripted embedding provider.
type fakeEmbed struct {
	mu      sync.Mutex
	embed   func(texts []string) ([][]float32, error)
	batches [][]string
}

func (f *fakeEmbed) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	return f.embed(texts)
}

func (f *fakeEmbed) GetModel() string { return "fake-embedding" }

func (f *fakeEmbed) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// axisVec returns a 1536-dim unit vector along one axis.
func axisVec(axis int) []float32 {
	v := make([]float32, types.EmbeddingDim)
	v[axis] = 1.0
	return v
}

// constantEmbedder embeds everything onto the same axis.
func constantEmbedder(axis int) *fakeEmbed {
	return &fakeEmbed{embed: func(texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = axisVec(axis)
		}
		return vectors, nil
	}}
}

// fakeStore is an in-memory storage.Store. Vector search mirrors the real
// backends: active items only, tier window over the effective access time,
// cosine similarity threshold.
type fakeStore struct {
	mu      sync.Mutex
	items   map[string]map[string]*types.MemoryItem
	touched map[string][]string
	deleted []string
}

var _ storage.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:   make(map[string]map[string]*types.MemoryItem),
		touched: make(map[string][]string),
	}
}

func (s *fakeStore) Insert(_ context.Context, item *types.MemoryItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[item.OwnerID] == nil {
		s.items[item.OwnerID] = make(map[string]*types.MemoryItem)
	}
	clone := *item
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = time.Now().UTC()
	clone.Version = 1
	if clone.CompressionStatus == "" {
		clone.CompressionStatus = types.StatusActive
	}
	s.items[item.OwnerID][item.ID] = &clone
	item.Version = 1
	return nil
}

func (s *fakeStore) Get(_ context.Context, ownerID, id string) (*types.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ownerID][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (s *fakeStore) Update(_ context.Context, item *types.MemoryItem, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item.OwnerID][item.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	clone := *item
	clone.Version = expectedVersion + 1
	clone.UpdatedAt = time.Now().UTC()
	s.items[item.OwnerID][item.ID] = &clone
	item.Version = clone.Version
	return nil
}

func (s *fakeStore) SetStatus(_ context.Context, ownerID, id string, status types.CompressionStatus, supersededBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ownerID][id]
	if !ok {
		return storage.ErrNotFound
	}
	item.CompressionStatus = status
	if supersededBy != "" {
		item.SupersededBy = supersededBy
	}
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) SetImportance(_ context.Context, ownerID, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ownerID][id]
	if !ok {
		return storage.ErrNotFound
	}
	item.ImportanceScore = score
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[ownerID][id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.items[ownerID], id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) TouchAccess(_ context.Context, ownerID string, ids []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[ownerID] = append(s.touched[ownerID], ids...)
	for _, id := range ids {
		if item, ok := s.items[ownerID][id]; ok {
			t := now
			item.LastAccessedAt = &t
			item.AccessCount++
		}
	}
	return nil
}

func (s *fakeStore) ListActiveByCategory(_ context.Context, ownerID string, category types.Category) ([]*types.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.MemoryItem
	for _, item := range s.items[ownerID] {
		if item.Category == category && item.CompressionStatus == types.StatusActive {
			clone := *item
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) ListCompactionCandidates(_ context.Context, ownerID string, filter storage.CandidateFilter) ([]*types.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -filter.MinAgeDays)
	var out []*types.MemoryItem
	for _, item := range s.items[ownerID] {
		if item.CompressionStatus != types.StatusActive {
			continue
		}
		if item.ImportanceScore >= filter.MaxImportance {
			continue
		}
		if item.CreatedAt.After(cutoff) {
			continue
		}
		clone := *item
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImportanceScore < out[j].ImportanceScore })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *fakeStore) ListOwners(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owners []string
	for owner := range s.items {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	if limit > 0 && len(owners) > limit {
		owners = owners[:limit]
	}
	return owners, nil
}

func (s *fakeStore) Stats(_ context.Context, ownerID string) (*storage.OwnerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &storage.OwnerStats{
		ByStatus:   make(map[types.CompressionStatus]int),
		ByCategory: make(map[types.Category]int),
	}
	for _, item := range s.items[ownerID] {
		stats.ByStatus[item.CompressionStatus]++
		if item.CompressionStatus == types.StatusActive {
			stats.ByCategory[item.Category]++
		}
	}
	return stats, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func (s *fakeStore) VectorSearch(_ context.Context, params storage.VectorSearchParams) ([][]storage.SearchHit, error) {
	params.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	results := make([][]storage.SearchHit, len(params.Queries))
	for qi, query := range params.Queries {
		var hits []storage.SearchHit
		for _, item := range s.items[params.OwnerID] {
			if item.CompressionStatus != types.StatusActive || len(item.Embedding) == 0 {
				continue
			}
			if types.TierOf(item.TierTime(), now) != params.Tier {
				continue
			}
			if params.Category != "" && item.Category != params.Category {
				continue
			}
			sim := storage.CosineSimilarity(query, item.Embedding)
			if sim < params.Threshold {
				continue
			}
			hits = append(hits, storage.SearchHit{
				MemoryID:        item.ID,
				Content:         item.Content,
				Category:        item.Category,
				Confidence:      item.Confidence,
				ImportanceScore: item.ImportanceScore,
				Similarity:      sim,
				LastAccessedAt:  item.TierTime(),
			})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
		if len(hits) > params.PerQueryLimit {
			hits = hits[:params.PerQueryLimit]
		}
		results[qi] = hits
	}
	return results, nil
}

func (s *fakeStore) item(ownerID, id string) *types.MemoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ownerID][id]
	if !ok {
		return nil
	}
	clone := *item
	return &clone
}

func (s *fakeStore) count(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[ownerID])
}

func testConfig() *config.Config {
	cfg, _ := config.LoadConfig()
	return cfg
}
