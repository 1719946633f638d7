package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ParchmentAI/parchment/engine/domain"
	"github.com/ParchmentAI/parchment/engine/semantic"
)

// Embedder turns a text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher abstracts the externally owned nearest-neighbour index.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error)
}

// DefaultMinSimilarity is the cosine floor below which dense hits are
// dropped before fusion, so they cannot occupy rank positions that feed RRF.
const DefaultMinSimilarity = 0.15

// DenseRanker ranks passages by embedding similarity. It is read-only and
// safe for concurrent use.
type DenseRanker struct {
	embed         Embedder
	search        VectorSearcher
	minSimilarity float64
	logger        *slog.Logger
}

// NewDenseRanker creates a DenseRanker. minSimilarity must be within the
// cosine range [-1, 1].
func NewDenseRanker(embed Embedder, search VectorSearcher, minSimilarity float64, logger *slog.Logger) (*DenseRanker, error) {
	if embed == nil || search == nil {
		return nil, fmt.Errorf("retrieval: %w: dense ranker needs an embedder and a vector searcher", domain.ErrBadConfig)
	}
	if minSimilarity < -1 || minSimilarity > 1 {
		return nil, fmt.Errorf("retrieval: %w: min similarity %v outside [-1, 1]", domain.ErrBadConfig, minSimilarity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DenseRanker{embed: embed, search: search, minSimilarity: minSimilarity, logger: logger}, nil
}

// Search returns up to k hits ordered by descending similarity, with hits
// below the similarity floor removed before ranks are assigned. Index or
// embedding failures degrade to an empty result so the caller can still
// fall back to sparse-only retrieval.
func (d *DenseRanker) Search(ctx context.Context, query string, k int) []ScoredHit {
	if k <= 0 {
		return nil
	}

	vec, err := d.embed.Embed(ctx, query)
	if err != nil {
		d.logger.Warn("dense: embed failed, degrading to empty", "err", err)
		return nil
	}

	results, err := d.search.Search(ctx, vec, k)
	if err != nil {
		d.logger.Warn("dense: vector search failed, degrading to empty", "err", err)
		return nil
	}

	hits := make([]ScoredHit, 0, len(results))
	for _, r := range results {
		score := float64(r.Score)
		if score < d.minSimilarity {
			continue
		}
		p := r.Passage()
		hits = append(hits, ScoredHit{
			Key:     p.Key(),
			Passage: p,
			Score:   score,
		})
	}

	// Qdrant already returns results best-first, but rank assignment must
	// not depend on that.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}
