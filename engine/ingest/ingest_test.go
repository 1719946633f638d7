package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- mocks ---

type mockEmbedder struct {
	dims    int
	err     error
	batches [][]string
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.batches = append(m.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.dims)
	}
	return out, nil
}

// --- helpers ---

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func handbook() string {
	return `# Benefits

## Vacation

` + strings.Repeat("Employees accrue vacation days every month of service. ", 4) + `

## Leave

` + strings.Repeat("Parental leave covers twelve weeks at full pay. ", 4) + `
`
}

// --- tests ---

func TestLoadDir(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"handbook.md":    handbook(),
		"notes.txt":      "plain notes",
		"guide.markdown": "# Guide\n\nbody",
		"image.png":      "binary junk",
		"data.json":      "{}",
	})

	files, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 supported files, got %d: %+v", len(files), files)
	}
	for _, f := range files {
		if f.Name == "image.png" || f.Name == "data.json" {
			t.Errorf("unsupported file loaded: %s", f.Name)
		}
	}
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	if _, err := LoadDir("/does/not/exist"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestParseFileStage(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"handbook.md": handbook()})

	doc, err := ParseFile(context.Background(), SourceFile{Path: filepath.Join(dir, "handbook.md"), Name: "handbook.md"}).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if doc.SourceID != "handbook.md" {
		t.Errorf("SourceID = %q", doc.SourceID)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(doc.Sections))
	}
}

func TestParseFileStage_MissingFile(t *testing.T) {
	if _, err := ParseFile(context.Background(), SourceFile{Path: "/nope.md", Name: "nope.md"}).Unwrap(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestChunkStage(t *testing.T) {
	doc := ParseMarkdown("handbook.md", handbook())
	passages, err := NewChunk(600, 100)(context.Background(), doc).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) == 0 {
		t.Fatal("no passages produced")
	}
	for _, p := range passages {
		if p.SourceID != "handbook.md" {
			t.Errorf("passage without source: %+v", p)
		}
		if len(p.SectionPath) == 0 {
			t.Errorf("passage without section path: %+v", p)
		}
	}
}

func TestEmbedStage_Batches(t *testing.T) {
	passages := Passages(ParseMarkdown("handbook.md", handbook()), 100, 0)
	if len(passages) < 3 {
		t.Fatalf("need several passages for batching, got %d", len(passages))
	}

	emb := &mockEmbedder{dims: 4}
	corpus, err := NewEmbed(emb, 2)(context.Background(), passages).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(corpus.Embeddings) != len(passages) {
		t.Fatalf("got %d embeddings for %d passages", len(corpus.Embeddings), len(passages))
	}
	if corpus.Dims() != 4 {
		t.Errorf("Dims = %d, want 4", corpus.Dims())
	}
	for i, batch := range emb.batches {
		if len(batch) > 2 {
			t.Errorf("batch %d has %d texts, want at most 2", i, len(batch))
		}
	}
}

func TestEmbedStage_PropagatesError(t *testing.T) {
	passages := Passages(ParseMarkdown("handbook.md", handbook()), 600, 100)
	emb := &mockEmbedder{err: errors.New("embedder down")}
	if _, err := NewEmbed(emb, 10)(context.Background(), passages).Unwrap(); err == nil {
		t.Fatal("embedder failure must fail the stage")
	}
}

func TestBuildSparse(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"handbook.md": handbook()})

	snap, err := BuildSparse(context.Background(), dir, 600, 100, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Passages) == 0 || snap.Sparse == nil {
		t.Fatalf("incomplete snapshot: %+v", snap)
	}
	if snap.Sparse.Len() != len(snap.Passages) {
		t.Errorf("sparse index covers %d of %d passages", snap.Sparse.Len(), len(snap.Passages))
	}

	hits := snap.Sparse.Search("parental leave weeks", 5)
	if len(hits) == 0 {
		t.Fatal("freshly built index returns no hits")
	}
	if hits[0].Key.SectionPath != "Benefits > Leave" {
		t.Errorf("best hit = %v", hits[0].Key)
	}
}

func TestBuildSparse_EmptyDir(t *testing.T) {
	if _, err := BuildSparse(context.Background(), t.TempDir(), 600, 100, nil); err == nil {
		t.Fatal("expected error for empty corpus directory")
	}
}

func TestRebuiltSubject(t *testing.T) {
	if RebuiltSubject != "engine.corpus.rebuilt" {
		t.Errorf("subject = %q", RebuiltSubject)
	}
}
