package types

import "time"

// EmbeddingDim is the required dimensionality for memory item embeddings.
// Vectors of any other length are rejected at validation time, never truncated.
const EmbeddingDim = 1536

// MemoryItem is the atomic unit of behavioral memory. Each item records one
// observation about an owner (e.g. "User avoids exercise because it feels
// overwhelming to start"), scored and embedded for retrieval.
//
// After creation an item is read-only except for four mutation paths:
// access tracking (LastAccessedAt/AccessCount), duplicate merging
// (Content/Confidence/ImportanceScore/Embedding/MergedFrom), contradiction
// resolution (CompressionStatus/SupersededBy), and compaction
// (ImportanceScore/CompressionStatus or hard delete).
type MemoryItem struct {
	// Core identification fields
	ID      string `json:"id"`       // Unique identifier (format: mem:<uuid>)
	OwnerID string `json:"owner_id"` // Owning user; partition key for every query
	Content string `json:"content"`  // Human-readable observation text

	// Classification and scoring
	Category        Category `json:"category"`         // Closed tag set (see category.go)
	Confidence      float64  `json:"confidence"`       // Extractor confidence the pattern is real [0.3, 1.0]
	ImportanceScore float64  `json:"importance_score"` // Mutable retention/ranking score [0.0, 1.0]

	// Embedding is the vector representation of Content, or nil when the
	// embedding service was unavailable at write time (fallback mode).
	Embedding []float32 `json:"embedding,omitempty"`

	// TaskContext is an optional associated task label for exact-match retrieval.
	TaskContext string `json:"task_context,omitempty"`

	// Access tracking (updated only by the access tracker)
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int        `json:"access_count"`

	// Lineage. MergedFrom lists the IDs of items absorbed into this one and
	// only ever grows. SupersededBy points at the item that replaced this one
	// after a contradiction verdict; it is set once and never cleared.
	MergedFrom   []string `json:"merged_from,omitempty"`
	SupersededBy string   `json:"superseded_by,omitempty"`

	// CompressionStatus gates retrieval: only active items are candidates.
	CompressionStatus CompressionStatus `json:"compression_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version supports optimistic concurrency. Every successful update
	// increments it; stores reject updates whose expected version is stale.
	Version int `json:"version"`
}

// CompressionStatus is the lifecycle state gating retrieval eligibility.
type CompressionStatus string

const (
	// StatusActive items are eligible for retrieval.
	StatusActive CompressionStatus = "active"

	// StatusCompressed items are soft-deleted: excluded from retrieval but
	// retained for audit (set by contradiction resolution and compaction).
	StatusCompressed CompressionStatus = "compressed"

	// StatusDeleted items are tombstones pending hard removal. Items are
	// never resurrected from this state.
	StatusDeleted CompressionStatus = "deleted"
)

// IsValidCompressionStatus reports whether s is one of the known states.
func IsValidCompressionStatus(s CompressionStatus) bool {
	switch s {
	case StatusActive, StatusCompressed, StatusDeleted:
		return true
	}
	return false
}

// TierTime returns the timestamp tier membership is computed from:
// LastAccessedAt when the item has been accessed, CreatedAt otherwise.
func (m *MemoryItem) TierTime() time.Time {
	if m.LastAccessedAt != nil && !m.LastAccessedAt.IsZero() {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}
