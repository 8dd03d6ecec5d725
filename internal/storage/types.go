package storage

import (
	"errors"
	"time"

	"github.com/pathwise/engram/pkg/types"
)

var (
	// ErrNotFound indicates that the requested item was not found for the
	// given owner.
	ErrNotFound = errors.New("memory item not found")

	// ErrVersionConflict indicates an optimistic-concurrency failure: the
	// item was modified since the caller read it. Callers re-read and retry.
	ErrVersionConflict = errors.New("memory item version conflict")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// SearchHit is one vector-search candidate. Hits within a single query list
// are ordered by similarity descending; no ordering is guaranteed across
// query lists.
type SearchHit struct {
	MemoryID        string
	Content         string
	Category        types.Category
	Confidence      float64
	ImportanceScore float64
	Similarity      float64
	LastAccessedAt  time.Time
}

// VectorSearchParams configures a tiered similarity search. Every search is
// scoped to one owner; the tier window constrains candidates server-side by
// their effective last access time.
type VectorSearchParams struct {
	OwnerID string

	// Queries holds one embedding per synthesized question. The result has
	// one hit list per query, in the same order.
	Queries [][]float32

	// Tier selects the day window (hot ≤7d, warm 7–30d, cold >30d).
	Tier types.Tier

	// Category, when non-empty, restricts candidates to one category
	// (used by the duplicate resolver).
	Category types.Category

	// Threshold is the minimum cosine similarity for a hit (default 0.6).
	Threshold float64

	// PerQueryLimit caps each query's hit list (default 5).
	PerQueryLimit int
}

// Normalize applies the documented defaults.
func (p *VectorSearchParams) Normalize() {
	if p.Threshold == 0 {
		p.Threshold = 0.6
	}
	if p.PerQueryLimit <= 0 {
		p.PerQueryLimit = 5
	}
	if p.Tier == "" {
		p.Tier = types.TierHot
	}
}

// CandidateFilter selects aging low-value items for a compaction pass.
type CandidateFilter struct {
	MinAgeDays    int     // items must be at least this old (by created_at)
	MaxImportance float64 // only items strictly below this score
	Limit         int     // candidate cap per owner
}

// OwnerStats summarizes one owner's stored items for the stats endpoint.
type OwnerStats struct {
	ByStatus   map[types.CompressionStatus]int `json:"by_status"`
	ByCategory map[types.Category]int          `json:"by_category"`
}
