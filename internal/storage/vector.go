package storage

import "math"

// CosineSimilarity returns the cosine similarity of two equal-length vectors
// in [-1, 1]. Zero-magnitude or mismatched vectors yield 0. Used by the
// sqlite backend, which has no server-side vector primitive.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
