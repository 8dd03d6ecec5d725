package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// VectorSearch performs tiered cosine similarity search server-side.
// The tier window, similarity threshold, and per-query cap are all pushed
// into SQL so the database does the candidate pruning. One statement runs
// per query vector; each result list is ordered by similarity descending.
func (s *MemoryStore) VectorSearch(ctx context.Context, params storage.VectorSearchParams) ([][]storage.SearchHit, error) {
	params.Normalize()
	if params.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}

	results := make([][]storage.SearchHit, len(params.Queries))
	for i, query := range params.Queries {
		if len(query) != types.EmbeddingDim {
			return nil, fmt.Errorf("%w: query %d has %d dimensions, want %d",
				storage.ErrInvalidInput, i, len(query), types.EmbeddingDim)
		}
		hits, err := s.vectorSearchOne(ctx, query, params)
		if err != nil {
			return nil, err
		}
		results[i] = hits
	}
	return results, nil
}

func (s *MemoryStore) vectorSearchOne(ctx context.Context, query []float32, params storage.VectorSearchParams) ([]storage.SearchHit, error) {
	minDays, maxDays := params.Tier.Window()

	// COALESCE(last_accessed_at, created_at) is the tier timestamp: items
	// never accessed tier by creation time.
	querySQL := `
		SELECT id, content, category, confidence, importance_score,
		       1 - (embedding <=> $1) AS similarity,
		       COALESCE(last_accessed_at, created_at) AS tier_time
		FROM memory_items
		WHERE owner_id = $2
		  AND compression_status = 'active'
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $3
	`
	args := []interface{}{pgvector.NewVector(query), params.OwnerID, params.Threshold}

	if maxDays > 0 {
		args = append(args, maxDays)
		querySQL += fmt.Sprintf("  AND COALESCE(last_accessed_at, created_at) >= NOW() - make_interval(days => $%d)\n", len(args))
	}
	if minDays > 0 {
		args = append(args, minDays)
		querySQL += fmt.Sprintf("  AND COALESCE(last_accessed_at, created_at) < NOW() - make_interval(days => $%d)\n", len(args))
	}
	if params.Category != "" {
		args = append(args, string(params.Category))
		querySQL += fmt.Sprintf("  AND category = $%d\n", len(args))
	}

	args = append(args, params.PerQueryLimit)
	querySQL += fmt.Sprintf("ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var hit storage.SearchHit
		var category string
		if err := rows.Scan(
			&hit.MemoryID, &hit.Content, &category,
			&hit.Confidence, &hit.ImportanceScore,
			&hit.Similarity, &hit.LastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan search hit: %w", err)
		}
		hit.Category = types.Category(category)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return hits, nil
}
