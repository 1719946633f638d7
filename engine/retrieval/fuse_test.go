package retrieval

import (
	"math"
	"testing"

	"github.com/ParchmentAI/parchment/engine/domain"
)

func key(source string, chunk int) domain.PassageKey {
	return domain.PassageKey{SourceID: source, SectionPath: "Section", ChunkIndex: chunk}
}

func hit(source string, chunk, rank int, score float64) ScoredHit {
	return ScoredHit{
		Key:     key(source, chunk),
		Passage: domain.Passage{Text: "text", SourceID: source, SectionPath: []string{"Section"}, ChunkIndex: chunk},
		Score:   score,
		Rank:    rank,
	}
}

func TestFuseRRF_RankFusion(t *testing.T) {
	// dense ranks P1 then P2; sparse ranks P2 then P3. P2 accumulates
	// contributions from both sides and wins.
	dense := []ScoredHit{hit("p1", 0, 1, 0.9), hit("p2", 0, 2, 0.8)}
	sparse := []ScoredHit{hit("p2", 0, 1, 7.5), hit("p3", 0, 2, 3.1)}

	fused := FuseRRF(dense, sparse, 60, 0)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused hits, got %d", len(fused))
	}

	wantOrder := []domain.PassageKey{key("p2", 0), key("p1", 0), key("p3", 0)}
	for i, want := range wantOrder {
		if fused[i].Key != want {
			t.Errorf("position %d: got %v, want %v", i, fused[i].Key, want)
		}
	}

	wantP2 := 1.0/62 + 1.0/61
	if math.Abs(fused[0].FusedScore-wantP2) > 1e-12 {
		t.Errorf("P2 fused score = %v, want %v", fused[0].FusedScore, wantP2)
	}
	if math.Abs(fused[1].FusedScore-1.0/61) > 1e-12 {
		t.Errorf("P1 fused score = %v, want %v", fused[1].FusedScore, 1.0/61)
	}
	if math.Abs(fused[2].FusedScore-1.0/62) > 1e-12 {
		t.Errorf("P3 fused score = %v, want %v", fused[2].FusedScore, 1.0/62)
	}
}

func TestFuseRRF_PreservesBothScores(t *testing.T) {
	dense := []ScoredHit{hit("p1", 0, 1, 0.9)}
	sparse := []ScoredHit{hit("p1", 0, 1, 4.2)}

	fused := FuseRRF(dense, sparse, 60, 0)
	if len(fused) != 1 {
		t.Fatalf("same key from both rankers must fuse into one hit, got %d", len(fused))
	}
	if fused[0].DenseScore == nil || *fused[0].DenseScore != 0.9 {
		t.Errorf("dense score not preserved: %v", fused[0].DenseScore)
	}
	if fused[0].SparseScore == nil || *fused[0].SparseScore != 4.2 {
		t.Errorf("sparse score not preserved: %v", fused[0].SparseScore)
	}
}

func TestFuseRRF_SingleSideScoresStayNil(t *testing.T) {
	fused := FuseRRF([]ScoredHit{hit("p1", 0, 1, 0.9)}, []ScoredHit{hit("p2", 0, 1, 4.2)}, 60, 0)
	for _, f := range fused {
		switch f.Key {
		case key("p1", 0):
			if f.DenseScore == nil || f.SparseScore != nil {
				t.Errorf("dense-only hit: DenseScore=%v SparseScore=%v", f.DenseScore, f.SparseScore)
			}
		case key("p2", 0):
			if f.SparseScore == nil || f.DenseScore != nil {
				t.Errorf("sparse-only hit: DenseScore=%v SparseScore=%v", f.DenseScore, f.SparseScore)
			}
		}
	}
}

func TestFuseRRF_NoDuplicatesNoDrops(t *testing.T) {
	dense := []ScoredHit{hit("a", 0, 1, 0.9), hit("b", 0, 2, 0.8), hit("c", 0, 3, 0.7)}
	sparse := []ScoredHit{hit("b", 0, 1, 9), hit("d", 0, 2, 8), hit("a", 0, 3, 7)}

	fused := FuseRRF(dense, sparse, 60, 0)

	seen := make(map[domain.PassageKey]int)
	for _, f := range fused {
		seen[f.Key]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("key %v appears %d times", k, n)
		}
	}
	for _, h := range append(append([]ScoredHit{}, dense...), sparse...) {
		if seen[h.Key] == 0 {
			t.Errorf("input key %v dropped by fusion", h.Key)
		}
	}
}

func TestFuseRRF_Truncation(t *testing.T) {
	dense := []ScoredHit{hit("a", 0, 1, 0.9), hit("b", 0, 2, 0.8), hit("c", 0, 3, 0.7), hit("d", 0, 4, 0.6)}
	fused := FuseRRF(dense, nil, 60, 2)
	if len(fused) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(fused))
	}
	if fused[0].Key != key("a", 0) || fused[1].Key != key("b", 0) {
		t.Errorf("truncation must keep the best hits, got %v then %v", fused[0].Key, fused[1].Key)
	}
}

func TestFuseRRF_TieBreakPrefersDense(t *testing.T) {
	// Same rank on opposite sides gives identical fused scores.
	dense := []ScoredHit{hit("d", 0, 1, 0.9)}
	sparse := []ScoredHit{hit("s", 0, 1, 5.0)}

	fused := FuseRRF(dense, sparse, 60, 0)
	if len(fused) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(fused))
	}
	if fused[0].Key != key("d", 0) {
		t.Errorf("tie must prefer the hit with dense evidence, got %v first", fused[0].Key)
	}
}

func TestFuseRRF_EmptyInputs(t *testing.T) {
	if got := FuseRRF(nil, nil, 60, 3); len(got) != 0 {
		t.Fatalf("expected empty fusion, got %d hits", len(got))
	}
}

func TestFallbackFused(t *testing.T) {
	hits := []ScoredHit{hit("a", 0, 1, 0.9), hit("b", 0, 2, 0.4)}

	dense := FallbackFused(hits, true)
	if dense[0].DenseScore == nil || dense[0].SparseScore != nil {
		t.Error("dense fallback must set only the dense score")
	}
	if dense[0].FusedScore != 0.9 {
		t.Errorf("fallback keeps raw score as fused score, got %v", dense[0].FusedScore)
	}

	sparse := FallbackFused(hits, false)
	if sparse[1].SparseScore == nil || sparse[1].DenseScore != nil {
		t.Error("sparse fallback must set only the sparse score")
	}
}
