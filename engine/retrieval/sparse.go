package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ParchmentAI/parchment/engine/domain"
)

// BM25 parameters (Okapi defaults).
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// DefaultMinBM25Score is the score floor below which sparse hits are
// dropped before fusion, mirroring the dense similarity floor.
const DefaultMinBM25Score = 0.1

// Token runs are case-insensitive alphanumeric-plus-underscore; no stemming.
var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// Tokenize lowercases text and splits it into index terms.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// SparseRanker is an in-memory BM25 index over one corpus snapshot. It is
// built once per snapshot and read-only afterwards, so queries need no
// locking.
type SparseRanker struct {
	passages []domain.Passage
	termFreq []map[string]int
	docLen   []int
	docFreq  map[string]int
	avgLen   float64
	minScore float64
}

// NewSparseRanker tokenizes the corpus and builds the BM25 index. An empty
// corpus yields a ranker whose Search always returns nil.
func NewSparseRanker(passages []domain.Passage, minScore float64) *SparseRanker {
	s := &SparseRanker{
		passages: passages,
		termFreq: make([]map[string]int, len(passages)),
		docLen:   make([]int, len(passages)),
		docFreq:  make(map[string]int),
		minScore: minScore,
	}

	total := 0
	for i, p := range passages {
		tokens := Tokenize(p.Text)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		s.termFreq[i] = tf
		s.docLen[i] = len(tokens)
		total += len(tokens)
		for t := range tf {
			s.docFreq[t]++
		}
	}
	if len(passages) > 0 {
		s.avgLen = float64(total) / float64(len(passages))
	}
	return s
}

// Len returns the number of indexed passages.
func (s *SparseRanker) Len() int { return len(s.passages) }

// Search returns up to k hits sorted by descending BM25 score with 1-based
// ranks assigned post-sort. Hits below the score floor are removed before
// ranks are assigned. An empty corpus returns nil.
func (s *SparseRanker) Search(query string, k int) []ScoredHit {
	if k <= 0 || len(s.passages) == 0 {
		return nil
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, k)
	for i := range s.passages {
		if sc := s.score(terms, i); sc >= s.minScore && sc > 0 {
			candidates = append(candidates, scored{idx: i, score: sc})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].score > candidates[b].score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]ScoredHit, len(candidates))
	for rank, c := range candidates {
		p := s.passages[c.idx]
		hits[rank] = ScoredHit{
			Key:     p.Key(),
			Passage: p,
			Score:   c.score,
			Rank:    rank + 1,
		}
	}
	return hits
}

// score computes the BM25 score of document i for the query terms.
func (s *SparseRanker) score(terms []string, i int) float64 {
	tf := s.termFreq[i]
	dl := float64(s.docLen[i])
	n := float64(len(s.passages))

	var total float64
	for _, t := range terms {
		f := float64(tf[t])
		if f == 0 {
			continue
		}
		df := float64(s.docFreq[t])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		total += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/s.avgLen))
	}
	return total
}
