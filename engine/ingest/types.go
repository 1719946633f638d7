package ingest

import "github.com/ParchmentAI/parchment/engine/domain"

// Chunking defaults, in characters.
const (
	DefaultChunkSize  = 600
	DefaultOverlap    = 100
	minChunkLength    = 50
	DefaultEmbedBatch = 100
)

// SourceFile is one corpus file on disk.
type SourceFile struct {
	Path string
	Name string
}

// Section is a contiguous run of text under one heading breadcrumb.
type Section struct {
	Path []string
	Text string
}

// ParsedDoc is a source file split into heading-delimited sections.
type ParsedDoc struct {
	SourceID string
	Sections []Section
}

// EmbeddedCorpus pairs the corpus passages with their embeddings, ready for
// the vector store.
type EmbeddedCorpus struct {
	Passages   []domain.Passage
	Embeddings [][]float32
}

// Dims returns the embedding dimension, or 0 for an empty corpus.
func (e EmbeddedCorpus) Dims() int {
	if len(e.Embeddings) == 0 {
		return 0
	}
	return len(e.Embeddings[0])
}
