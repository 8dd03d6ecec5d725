// Package storage provides composable storage interfaces for the Engram
// memory engine. Every operation is scoped to one owner (the owner ID is the
// partition key for all queries) and mutations use optimistic concurrency
// (version compare-and-swap) so concurrent merges on one owner cannot lose
// updates.
package storage

import (
	"context"
	"time"

	"github.com/pathwise/engram/pkg/types"
)

// MemoryStore provides per-owner CRUD and lifecycle operations for memory
// items. Implementations must validate items before persistence and must
// never return non-active items from retrieval-facing queries.
type MemoryStore interface {
	// Insert creates a new memory item. The item must pass validation;
	// Version is initialized to 1.
	Insert(ctx context.Context, item *types.MemoryItem) error

	// Get retrieves one item by owner and id.
	// Returns ErrNotFound if absent.
	Get(ctx context.Context, ownerID, id string) (*types.MemoryItem, error)

	// Update rewrites a mutable item (content, confidence, importance,
	// embedding, lineage, status) guarded by expectedVersion. On success the
	// stored version becomes expectedVersion+1 and item.Version is updated
	// to match. Returns ErrVersionConflict when the stored version differs.
	Update(ctx context.Context, item *types.MemoryItem, expectedVersion int) error

	// SetStatus transitions an item's compression status, optionally
	// recording the superseding item. Used by contradiction resolution
	// (compressed + supersededBy) and compaction (compressed).
	SetStatus(ctx context.Context, ownerID, id string, status types.CompressionStatus, supersededBy string) error

	// SetImportance overwrites an item's importance score (clamped by the
	// caller) and bumps updated_at. Used by the compaction sweep.
	SetImportance(ctx context.Context, ownerID, id string, score float64) error

	// Delete hard-deletes an item. Returns ErrNotFound if absent.
	Delete(ctx context.Context, ownerID, id string) error

	// TouchAccess marks items as accessed: last_accessed_at = now,
	// access_count incremented, and a small capped importance boost for
	// corroborated usefulness. Missing ids are ignored; access tracking is
	// best-effort.
	TouchAccess(ctx context.Context, ownerID string, ids []string, now time.Time) error

	// ListActiveByCategory returns all active items for one owner and
	// category, ordered by created_at ascending (oldest first, the merge
	// target ordering).
	ListActiveByCategory(ctx context.Context, ownerID string, category types.Category) ([]*types.MemoryItem, error)

	// ListCompactionCandidates returns active items matching the filter,
	// lowest importance first.
	ListCompactionCandidates(ctx context.Context, ownerID string, filter CandidateFilter) ([]*types.MemoryItem, error)

	// ListOwners returns up to limit distinct owner IDs ordered by the
	// oldest item update first, so compaction rotates fairly through owners.
	ListOwners(ctx context.Context, limit int) ([]string, error)

	// Stats returns per-status and per-category item counts for one owner.
	Stats(ctx context.Context, ownerID string) (*OwnerStats, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// VectorSearcher executes tiered similarity search. The postgres backend
// runs it server-side via pgvector; the sqlite backend computes cosine
// similarity in process over the owner's tier slice.
type VectorSearcher interface {
	// VectorSearch returns one similarity-ordered hit list per query vector.
	// Only active items within the tier window are candidates.
	VectorSearch(ctx context.Context, params VectorSearchParams) ([][]SearchHit, error)
}

// Store is the full contract the engine needs from a backend.
type Store interface {
	MemoryStore
	VectorSearcher
}
