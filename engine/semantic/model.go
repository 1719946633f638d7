package semantic

import "github.com/ParchmentAI/parchment/engine/domain"

// SearchResult is a single vector search hit with its passage payload.
type SearchResult struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	Content     string  `json:"content"`
	SourceID    string  `json:"source_id"`
	SectionPath string  `json:"section_path"`
	ChunkIndex  int     `json:"chunk_index"`
}

// Passage reconstructs the domain passage carried in the hit payload.
func (r SearchResult) Passage() domain.Passage {
	return domain.Passage{
		Text:        r.Content,
		SourceID:    r.SourceID,
		SectionPath: domain.SplitSectionPath(r.SectionPath),
		ChunkIndex:  r.ChunkIndex,
	}
}

// VectorRecord is a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Passage   domain.Passage
}
