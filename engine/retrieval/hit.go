// Package retrieval implements the hybrid retrieval core: a dense ranker
// over the vector index, a sparse in-memory BM25 ranker, and reciprocal
// rank fusion of the two into a single ranking.
package retrieval

import "github.com/ParchmentAI/parchment/engine/domain"

// ScoredHit is one candidate passage from a single ranker. Rank is 1-based
// and assigned by descending score within that ranker's own result set.
type ScoredHit struct {
	Key     domain.PassageKey
	Passage domain.Passage
	Score   float64
	Rank    int
}

// FusedHit is a hit after rank fusion. DenseScore and SparseScore are nil
// when the passage was not retrieved by that method; at most one of the two
// is nil.
type FusedHit struct {
	Key         domain.PassageKey
	Passage     domain.Passage
	DenseScore  *float64
	SparseScore *float64
	FusedScore  float64
}
