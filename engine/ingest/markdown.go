package ingest

import (
	"regexp"
	"strings"
)

var (
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	emphasis    = regexp.MustCompile(`\*{1,2}([^*]+)\*{1,2}`)
	mdLink      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// ParseMarkdown splits markdown content into sections keyed by the heading
// breadcrumb in effect at each point. A heading at level n replaces the
// breadcrumb from depth n down. Text before the first heading becomes a
// section with an empty path. Plain-text files parse to a single rootless
// section.
func ParseMarkdown(sourceID, content string) ParsedDoc {
	doc := ParsedDoc{SourceID: sourceID}

	var (
		crumb   []string
		current strings.Builder
	)
	flush := func() {
		text := cleanText(current.String())
		current.Reset()
		if text == "" {
			return
		}
		path := make([]string, len(crumb))
		copy(path, crumb)
		doc.Sections = append(doc.Sections, Section{Path: path, Text: text})
	}

	for _, line := range strings.Split(content, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level <= len(crumb) {
				crumb = crumb[:level-1]
			}
			crumb = append(crumb, title)
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return doc
}

// cleanText strips inline markdown formatting but preserves structure.
func cleanText(text string) string {
	text = emphasis.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
