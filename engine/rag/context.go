package rag

import (
	"strings"

	"github.com/ParchmentAI/parchment/engine/domain"
	"github.com/ParchmentAI/parchment/engine/retrieval"
)

// fragmentSeparator joins context fragments. It counts toward the budget.
const fragmentSeparator = "\n\n"

// ContextBlock is the assembled, citation-tagged context handed to the
// generation capability.
type ContextBlock struct {
	// Text is the concatenation of kept fragments, trimmed.
	Text string
	// Citations are the distinct citation strings, in ranking order.
	Citations []string
}

// AssembleContext turns an ordered (best-first) hit sequence into a
// character-bounded context block:
//
//   - hits are deduplicated by (source, section), first occurrence wins;
//   - each kept hit becomes a citation header followed by the passage text;
//   - a fragment is appended only if it fits the remaining budget in full
//     (greedy truncation, no partial fragments, no reordering);
//   - assembly stops once the distinct-citation ceiling is reached.
//
// Output length never exceeds budget, distinct citations never exceed
// maxCitations, and fragment order follows the input ranking.
func AssembleContext(hits []retrieval.FusedHit, budget, maxCitations int) ContextBlock {
	var (
		b         strings.Builder
		citations []string
		seen      = make(map[domain.SectionKey]bool)
	)

	for _, h := range hits {
		if len(citations) >= maxCitations {
			break
		}
		section := h.Key.Section()
		if seen[section] {
			continue
		}

		citation := FormatCitation(section)
		fragment := citation + "\n" + h.Passage.Text
		cost := len(fragment)
		if b.Len() > 0 {
			cost += len(fragmentSeparator)
		}
		if b.Len()+cost > budget {
			break
		}

		if b.Len() > 0 {
			b.WriteString(fragmentSeparator)
		}
		b.WriteString(fragment)
		seen[section] = true
		citations = append(citations, citation)
	}

	return ContextBlock{
		Text:      strings.TrimSpace(b.String()),
		Citations: citations,
	}
}
