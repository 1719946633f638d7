package ingest

import (
	"strings"

	"github.com/ParchmentAI/parchment/engine/domain"
)

// chunkText splits text into chunks of roughly chunkSize characters with
// the given overlap, breaking at whitespace where possible. Chunks shorter
// than minChunkLength are dropped.
func chunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}

	text = strings.TrimSpace(text)
	var chunks []string
	for start := 0; start < len(text); {
		end := start + chunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			// Back up to the nearest whitespace so words stay whole.
			cut := strings.LastIndexFunc(text[start:end], func(r rune) bool {
				return r == ' ' || r == '\n' || r == '\t'
			})
			if cut > 0 {
				end = start + cut
			}
		}

		chunk := strings.TrimSpace(text[start:end])
		if len(chunk) >= minChunkLength {
			chunks = append(chunks, chunk)
		}

		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// Passages converts a parsed document into retrievable passages, with
// chunk indexes assigned per section.
func Passages(doc ParsedDoc, chunkSize, overlap int) []domain.Passage {
	var passages []domain.Passage
	for _, sec := range doc.Sections {
		for i, chunk := range chunkText(sec.Text, chunkSize, overlap) {
			passages = append(passages, domain.Passage{
				Text:        chunk,
				SourceID:    doc.SourceID,
				SectionPath: sec.Path,
				ChunkIndex:  i,
			})
		}
	}
	return passages
}
