package rag

import (
	"strings"
	"testing"

	"github.com/ParchmentAI/parchment/engine/domain"
)

func TestFormatCitation(t *testing.T) {
	tests := []struct {
		key  domain.SectionKey
		want string
	}{
		{domain.SectionKey{SourceID: "handbook.md", SectionPath: "Benefits > Leave"}, "[source: handbook.md §Benefits > Leave]"},
		{domain.SectionKey{SourceID: "notes.txt"}, "[source: notes.txt]"},
	}
	for _, tt := range tests {
		if got := FormatCitation(tt.key); got != tt.want {
			t.Errorf("FormatCitation(%v) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestHasCitation(t *testing.T) {
	if !HasCitation("See [source: a.md §S] for details.") {
		t.Error("marker not detected")
	}
	if !HasCitation("odd spacing [source:   b.md]") {
		t.Error("marker with extra spacing not detected")
	}
	if HasCitation("no markers here [source missing bracket") {
		t.Error("false positive")
	}
}

func TestLimitCitations_DistinctCeiling(t *testing.T) {
	text := "A [source: a.md §1] B [source: b.md §2] C [source: c.md §3] D [source: d.md §4] E [source: e.md §5]"
	got := LimitCitations(text, 3)

	for _, want := range []string{"[source: a.md §1]", "[source: b.md §2]", "[source: c.md §3]"} {
		if !strings.Contains(got, want) {
			t.Errorf("first three distinct markers must survive, missing %q", want)
		}
	}
	for _, gone := range []string{"[source: d.md §4]", "[source: e.md §5]"} {
		if strings.Contains(got, gone) {
			t.Errorf("marker past the ceiling survived: %q", gone)
		}
	}
	if !strings.Contains(got, "A ") || !strings.Contains(got, " E") {
		t.Errorf("non-citation text must be preserved:\n%s", got)
	}
}

func TestLimitCitations_DuplicatesOfKeptMarkerRemoved(t *testing.T) {
	text := "X [source: a.md §1] Y [source: a.md §1] Z"
	got := LimitCitations(text, 3)
	if n := strings.Count(got, "[source: a.md §1]"); n != 1 {
		t.Fatalf("kept marker appears %d times, want 1:\n%s", n, got)
	}
	if !strings.Contains(got, "X ") || !strings.Contains(got, " Z") {
		t.Errorf("surrounding text damaged:\n%s", got)
	}
}

func TestLimitCitations_UnderCeilingUnchanged(t *testing.T) {
	text := "One [source: a.md §1] two [source: b.md §2]."
	if got := LimitCitations(text, 3); got != text {
		t.Fatalf("text under the ceiling must pass through unchanged:\n%q", got)
	}
}

func TestLimitCitations_Idempotent(t *testing.T) {
	text := "A [source: a.md §1] B [source: b.md §2] C [source: c.md §3] D [source: d.md §4]"
	once := LimitCitations(text, 2)
	twice := LimitCitations(once, 2)
	if once != twice {
		t.Fatalf("limiting must be idempotent:\n%q\nvs\n%q", once, twice)
	}
}

func TestLimitCitations_NoMarkers(t *testing.T) {
	text := "plain answer with no markers"
	if got := LimitCitations(text, 3); got != text {
		t.Fatalf("got %q", got)
	}
}

func TestStripCitations(t *testing.T) {
	text := "Vacation accrues monthly. [source: handbook.md §Benefits > Vacation] Submit requests early. [source: handbook.md §Benefits]"
	got := StripCitations(text)
	if HasCitation(got) {
		t.Fatalf("markers survived stripping:\n%s", got)
	}
	if !strings.Contains(got, "Vacation accrues monthly.") || !strings.Contains(got, "Submit requests early.") {
		t.Errorf("answer text damaged:\n%s", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("double spaces left behind:\n%s", got)
	}
}

func TestStripCitations_TidiesWhitespace(t *testing.T) {
	text := "Line one. [source: a.md]\n\n\n\nLine two."
	got := StripCitations(text)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("newline runs not collapsed:\n%q", got)
	}
	if got != strings.TrimSpace(got) {
		t.Errorf("result not trimmed: %q", got)
	}
}
