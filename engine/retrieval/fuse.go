package retrieval

import (
	"sort"

	"github.com/ParchmentAI/parchment/engine/domain"
)

// DefaultRRFK is the rank damping constant for reciprocal rank fusion.
const DefaultRRFK = 60

// FuseRRF merges two independently ranked hit lists into one ranking using
// Reciprocal Rank Fusion: each hit at rank r contributes 1/(k+r) to its
// passage key's fused score, and contributions for the same key are summed.
// RRF fuses by rank, not raw score, so BM25 (unbounded positive) and cosine
// (bounded) need no scale reconciliation.
//
// Ties are broken by preferring hits with dense evidence, then by insertion
// order (dense list first). The result is truncated to topK when topK > 0.
func FuseRRF(dense, sparse []ScoredHit, k, topK int) []FusedHit {
	if k <= 0 {
		k = DefaultRRFK
	}

	byKey := make(map[domain.PassageKey]*FusedHit, len(dense)+len(sparse))
	order := make([]domain.PassageKey, 0, len(dense)+len(sparse))

	add := func(h ScoredHit, isDense bool) {
		f, ok := byKey[h.Key]
		if !ok {
			f = &FusedHit{Key: h.Key, Passage: h.Passage}
			byKey[h.Key] = f
			order = append(order, h.Key)
		}
		f.FusedScore += 1.0 / float64(k+h.Rank)
		score := h.Score
		if isDense {
			f.DenseScore = &score
		} else {
			f.SparseScore = &score
		}
	}

	for _, h := range dense {
		add(h, true)
	}
	for _, h := range sparse {
		add(h, false)
	}

	fused := make([]FusedHit, len(order))
	for i, key := range order {
		fused[i] = *byKey[key]
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		di, dj := fused[i].DenseScore != nil, fused[j].DenseScore != nil
		if di != dj {
			return di
		}
		return false // stable: keep insertion order
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// FallbackFused wraps a single ranker's raw hits in the fused shape, for
// the orchestrator's degenerate-fusion fallback. The absent side stays nil.
func FallbackFused(hits []ScoredHit, isDense bool) []FusedHit {
	fused := make([]FusedHit, len(hits))
	for i, h := range hits {
		score := h.Score
		fused[i] = FusedHit{Key: h.Key, Passage: h.Passage, FusedScore: h.Score}
		if isDense {
			fused[i].DenseScore = &score
		} else {
			fused[i].SparseScore = &score
		}
	}
	return fused
}
