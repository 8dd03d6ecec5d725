package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// searchCandidate is one embedded row loaded for in-process scoring.
type searchCandidate struct {
	hit       storage.SearchHit
	embedding []float32
}

// VectorSearch performs tiered cosine similarity search. The tier window and
// category filter are pushed into SQL; similarity itself is computed in Go
// because SQLite has no vector primitive. The candidate slice is loaded once
// and scored against every query vector, so the table is scanned once per
// call rather than once per query.
func (s *MemoryStore) VectorSearch(ctx context.Context, params storage.VectorSearchParams) ([][]storage.SearchHit, error) {
	params.Normalize()
	if params.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}
	for i, query := range params.Queries {
		if len(query) != types.EmbeddingDim {
			return nil, fmt.Errorf("%w: query %d has %d dimensions, want %d",
				storage.ErrInvalidInput, i, len(query), types.EmbeddingDim)
		}
	}

	candidates, err := s.loadCandidates(ctx, params)
	if err != nil {
		return nil, err
	}

	results := make([][]storage.SearchHit, len(params.Queries))
	for i, query := range params.Queries {
		results[i] = scoreCandidates(candidates, query, params.Threshold, params.PerQueryLimit)
	}
	return results, nil
}

func (s *MemoryStore) loadCandidates(ctx context.Context, params storage.VectorSearchParams) ([]searchCandidate, error) {
	minDays, maxDays := params.Tier.Window()
	now := time.Now().UTC()

	// COALESCE(last_accessed_at, created_at) is the tier timestamp: items
	// never accessed tier by creation time.
	querySQL := `
		SELECT id, content, category, confidence, importance_score,
		       embedding, COALESCE(last_accessed_at, created_at) AS tier_time
		FROM memory_items
		WHERE owner_id = ?
		  AND compression_status = 'active'
		  AND embedding IS NOT NULL
	`
	args := []interface{}{params.OwnerID}

	if maxDays > 0 {
		args = append(args, now.AddDate(0, 0, -maxDays).Unix())
		querySQL += "  AND COALESCE(last_accessed_at, created_at) >= ?\n"
	}
	if minDays > 0 {
		args = append(args, now.AddDate(0, 0, -minDays).Unix())
		querySQL += "  AND COALESCE(last_accessed_at, created_at) < ?\n"
	}
	if params.Category != "" {
		args = append(args, string(params.Category))
		querySQL += "  AND category = ?\n"
	}

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []searchCandidate
	for rows.Next() {
		var c searchCandidate
		var category, embeddingJSON string
		var tierTime int64
		if err := rows.Scan(
			&c.hit.MemoryID, &c.hit.Content, &category,
			&c.hit.Confidence, &c.hit.ImportanceScore,
			&embeddingJSON, &tierTime,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan search candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &c.embedding); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal embedding for %s: %w", c.hit.MemoryID, err)
		}
		c.hit.Category = types.Category(category)
		c.hit.LastAccessedAt = time.Unix(tierTime, 0).UTC()
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return candidates, nil
}

// scoreCandidates computes cosine similarity against one query vector and
// returns the hits above threshold, best first, capped at limit.
func scoreCandidates(candidates []searchCandidate, query []float32, threshold float64, limit int) []storage.SearchHit {
	var hits []storage.SearchHit
	for _, c := range candidates {
		sim := storage.CosineSimilarity(query, c.embedding)
		if sim < threshold {
			continue
		}
		hit := c.hit
		hit.Similarity = sim
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
