package types

import (
	"fmt"
	"strings"
)

// MinConfidence is the floor for extractor confidence. The extraction prompt
// asks for [0.3, 1.0]; anything lower is treated as noise and raised to the
// floor rather than rejected.
const MinConfidence = 0.3

// Clamp01 clamps v to [0.0, 1.0]. Every computed score passes through this
// before persistence.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampConfidence clamps v to the [MinConfidence, 1.0] range used for
// extractor confidence values.
func ClampConfidence(v float64) float64 {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > 1 {
		return 1
	}
	return v
}

// Validate checks the invariants that must hold before a MemoryItem is
// persisted. Violations are surfaced to the caller as validation errors and
// never silently corrected.
func (m *MemoryItem) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("memory item: id is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("memory item %s: owner_id is required", m.ID)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory item %s: content is required", m.ID)
	}
	if !IsValidCategory(m.Category) {
		return fmt.Errorf("memory item %s: unknown category %q", m.ID, m.Category)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("memory item %s: confidence %.3f out of range [0,1]", m.ID, m.Confidence)
	}
	if m.ImportanceScore < 0 || m.ImportanceScore > 1 {
		return fmt.Errorf("memory item %s: importance_score %.3f out of range [0,1]", m.ID, m.ImportanceScore)
	}
	if len(m.Embedding) != 0 && len(m.Embedding) != EmbeddingDim {
		return fmt.Errorf("memory item %s: embedding has %d dimensions, want %d", m.ID, len(m.Embedding), EmbeddingDim)
	}
	if m.CompressionStatus != "" && !IsValidCompressionStatus(m.CompressionStatus) {
		return fmt.Errorf("memory item %s: unknown compression status %q", m.ID, m.CompressionStatus)
	}
	return nil
}
