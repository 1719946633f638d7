package retrieval

import (
	"sync/atomic"
	"time"

	"github.com/ParchmentAI/parchment/engine/domain"
)

// Snapshot is one immutable corpus generation: the passages and the sparse
// index built over them. The dense side of the same generation lives in the
// vector store collection that was populated by the rebuild that produced
// this snapshot.
type Snapshot struct {
	Passages []domain.Passage
	Sparse   *SparseRanker
	BuiltAt  time.Time
	Vectors  uint64
	Dims     int
}

// Holder publishes the current snapshot to readers. A rebuild constructs a
// complete new Snapshot off to the side and swaps it in with Swap, so no
// in-flight query ever observes a half-updated sparse/dense pair. Writers
// must serialize rebuilds themselves (at most one concurrent rebuild).
type Holder struct {
	cur atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, or nil before the first rebuild.
func (h *Holder) Load() *Snapshot {
	return h.cur.Load()
}

// Swap atomically publishes a new snapshot.
func (h *Holder) Swap(s *Snapshot) {
	h.cur.Store(s)
}
