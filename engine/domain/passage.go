// Package domain holds the core data model shared by the retrieval and
// answer-assembly pipeline: passages, their identity keys, and query
// validation.
package domain

import "strings"

// SectionSeparator joins heading breadcrumbs into a single display string.
// The same joined form is used for identity matching across rankers and for
// citation rendering, so it must never change between ingestion and query.
const SectionSeparator = " > "

// Passage is an immutable unit of retrievable text produced during
// ingestion. The core only reads passages; it never mutates them.
type Passage struct {
	// Text is the passage body.
	Text string `json:"text"`
	// SourceID is the stable document identifier (the file name).
	SourceID string `json:"source_id"`
	// SectionPath is the ordered breadcrumb of heading titles leading to
	// this passage. Empty for documents without headings.
	SectionPath []string `json:"section_path,omitempty"`
	// ChunkIndex is the position of this passage within its section.
	ChunkIndex int `json:"chunk_index"`
}

// Key returns the identity triple for this passage. Hits from independent
// retrieval methods that refer to the same underlying passage must produce
// equal keys, or fusion will treat them as distinct passages.
func (p Passage) Key() PassageKey {
	return PassageKey{
		SourceID:    p.SourceID,
		SectionPath: JoinSectionPath(p.SectionPath),
		ChunkIndex:  p.ChunkIndex,
	}
}

// PassageKey identifies a passage across retrieval methods. SectionPath is
// stored pre-joined so the struct is comparable and usable as a map key.
type PassageKey struct {
	SourceID    string
	SectionPath string
	ChunkIndex  int
}

// Section returns the coarser (source, section) key used for citation
// deduplication: multiple chunks of one section share a citation slot.
func (k PassageKey) Section() SectionKey {
	return SectionKey{SourceID: k.SourceID, SectionPath: k.SectionPath}
}

// SectionKey is the coarse identity used by the context assembler.
type SectionKey struct {
	SourceID    string
	SectionPath string
}

// JoinSectionPath renders a breadcrumb as a single string.
func JoinSectionPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return strings.Join(path, SectionSeparator)
}

// SplitSectionPath is the inverse of JoinSectionPath.
func SplitSectionPath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, SectionSeparator)
}
