package rag

import (
	"regexp"
	"strings"

	"github.com/ParchmentAI/parchment/engine/domain"
)

// citationPattern matches the citation wire format produced by assembly and
// expected from the model: `[source: <name>]` or `[source: <name> §<section>]`.
// Downstream citation-stripping consumers depend on this exact shape.
var citationPattern = regexp.MustCompile(`\[source:\s*[^\]]+\]`)

var (
	runsOfSpaces   = regexp.MustCompile(`[ \t]{2,}`)
	runsOfNewlines = regexp.MustCompile(`\n{3,}`)
)

// FormatCitation renders the citation marker for a section.
func FormatCitation(key domain.SectionKey) string {
	if key.SectionPath == "" {
		return "[source: " + key.SourceID + "]"
	}
	return "[source: " + key.SourceID + " §" + key.SectionPath + "]"
}

// HasCitation reports whether text contains at least one citation marker.
func HasCitation(text string) bool {
	return citationPattern.MatchString(text)
}

// LimitCitations scans citation markers left to right and keeps only the
// first occurrence of each distinct marker, up to max distinct markers.
// Every other marker is deleted in place; all non-citation text is kept
// unchanged.
func LimitCitations(text string, max int) string {
	spans := citationPattern.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	kept := make(map[string]bool, max)
	prev := 0

	for _, span := range spans {
		b.WriteString(text[prev:span[0]])
		marker := text[span[0]:span[1]]
		if !kept[marker] && len(kept) < max {
			kept[marker] = true
			b.WriteString(marker)
		}
		prev = span[1]
	}
	b.WriteString(text[prev:])
	return b.String()
}

// StripCitations removes every citation marker and tidies the whitespace
// the removal leaves behind. Used by callers that render citation-free
// output; the answer text itself is not otherwise altered.
func StripCitations(text string) string {
	cleaned := citationPattern.ReplaceAllString(text, "")
	cleaned = runsOfSpaces.ReplaceAllString(cleaned, " ")
	cleaned = runsOfNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
