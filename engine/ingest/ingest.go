// Package ingest builds corpus snapshots: it loads markdown and plain-text
// files, splits them into heading-aware passages, embeds them, and replaces
// the dense and sparse indexes as one unit.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ParchmentAI/parchment/engine/domain"
	"github.com/ParchmentAI/parchment/engine/retrieval"
	"github.com/ParchmentAI/parchment/engine/semantic"
	"github.com/ParchmentAI/parchment/pkg/fn"
	"github.com/google/uuid"
)

// RebuiltSubject is the NATS subject announcing a finished corpus rebuild.
const RebuiltSubject = "engine.corpus.rebuilt"

// RebuiltEvent is published on RebuiltSubject so serving processes reload
// their snapshot.
type RebuiltEvent struct {
	Passages int       `json:"passages"`
	Sources  int       `json:"sources"`
	BuiltAt  time.Time `json:"built_at"`
}

// Embedder is the consumed embedding capability, batch form.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Deps holds the external dependencies of a rebuild.
type Deps struct {
	Embedder   Embedder
	Store      *semantic.VectorStore
	ChunkSize  int
	Overlap    int
	EmbedBatch int
	Logger     *slog.Logger
}

// --- pipeline stages ---

// ParseFile reads one source file into heading-delimited sections.
var ParseFile fn.Stage[SourceFile, ParsedDoc] = func(_ context.Context, f SourceFile) fn.Result[ParsedDoc] {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return fn.Err[ParsedDoc](fmt.Errorf("ingest: read %s: %w", f.Path, err))
	}
	return fn.Ok(ParseMarkdown(f.Name, string(raw)))
}

// NewChunk creates the chunking stage.
func NewChunk(chunkSize, overlap int) fn.Stage[ParsedDoc, []domain.Passage] {
	return func(_ context.Context, doc ParsedDoc) fn.Result[[]domain.Passage] {
		passages := Passages(doc, chunkSize, overlap)
		for _, p := range passages {
			if err := domain.ValidatePassage(p); err != nil {
				return fn.Err[[]domain.Passage](fmt.Errorf("ingest: %s: %w", doc.SourceID, err))
			}
		}
		return fn.Ok(passages)
	}
}

// NewEmbed creates the embedding stage, batching calls to the capability.
func NewEmbed(e Embedder, batch int) fn.Stage[[]domain.Passage, EmbeddedCorpus] {
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}
	return func(ctx context.Context, passages []domain.Passage) fn.Result[EmbeddedCorpus] {
		embeddings := make([][]float32, 0, len(passages))
		for i := 0; i < len(passages); i += batch {
			end := min(i+batch, len(passages))
			texts := make([]string, end-i)
			for j, p := range passages[i:end] {
				texts[j] = p.Text
			}
			vecs, err := e.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[EmbeddedCorpus](fmt.Errorf("ingest: embed batch at %d: %w", i, err))
			}
			embeddings = append(embeddings, vecs...)
		}
		return fn.Ok(EmbeddedCorpus{Passages: passages, Embeddings: embeddings})
	}
}

// NewStore creates the storage stage: it resets the collection and upserts
// every embedded passage, so the dense index holds exactly this corpus.
func NewStore(vs *semantic.VectorStore, batch int) fn.Stage[EmbeddedCorpus, EmbeddedCorpus] {
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}
	return func(ctx context.Context, corpus EmbeddedCorpus) fn.Result[EmbeddedCorpus] {
		if err := vs.Reset(ctx, corpus.Dims()); err != nil {
			return fn.Err[EmbeddedCorpus](err)
		}
		for i := 0; i < len(corpus.Passages); i += batch {
			end := min(i+batch, len(corpus.Passages))
			records := make([]semantic.VectorRecord, end-i)
			for j := range records {
				records[j] = semantic.VectorRecord{
					ID:        uuid.NewString(),
					Embedding: corpus.Embeddings[i+j],
					Passage:   corpus.Passages[i+j],
				}
			}
			if err := vs.Upsert(ctx, records); err != nil {
				return fn.Err[EmbeddedCorpus](err)
			}
		}
		return fn.Ok(corpus)
	}
}

// LoadDir lists the supported corpus files in dir, non-recursively.
func LoadDir(dir string) ([]SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read dir %s: %w", dir, err)
	}
	var files []SourceFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md", ".markdown", ".txt":
			files = append(files, SourceFile{Path: filepath.Join(dir, e.Name()), Name: e.Name()})
		}
	}
	return files, nil
}

// Rebuild processes an entire corpus directory into a new snapshot. The
// caller must serialize rebuilds and publish the returned snapshot
// atomically; Rebuild itself never touches the live snapshot.
func Rebuild(ctx context.Context, dir string, deps Deps) (*retrieval.Snapshot, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("ingest: no supported documents in %s", dir)
	}

	parseAndChunk := fn.Then(
		fn.TracedStage("ingest.parse", ParseFile),
		fn.TracedStage("ingest.chunk", NewChunk(deps.ChunkSize, deps.Overlap)),
	)

	var passages []domain.Passage
	for _, f := range files {
		chunked, err := parseAndChunk(ctx, f).Unwrap()
		if err != nil {
			logger.Warn("ingest: skipping file", "file", f.Name, "err", err)
			continue
		}
		logger.Info("ingest: processed file", "file", f.Name, "passages", len(chunked))
		passages = append(passages, chunked...)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("ingest: no passages extracted from %s", dir)
	}

	embedAndStore := fn.Then(
		fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder, deps.EmbedBatch)),
		fn.TracedStage("ingest.store", NewStore(deps.Store, deps.EmbedBatch)),
	)
	corpus, err := embedAndStore(ctx, passages).Unwrap()
	if err != nil {
		return nil, err
	}

	snap := &retrieval.Snapshot{
		Passages: corpus.Passages,
		Sparse:   retrieval.NewSparseRanker(corpus.Passages, retrieval.DefaultMinBM25Score),
		BuiltAt:  time.Now(),
		Vectors:  uint64(len(corpus.Passages)),
		Dims:     corpus.Dims(),
	}
	logger.Info("ingest: rebuild complete",
		"files", len(files),
		"passages", len(passages),
		"dims", snap.Dims,
		"took", time.Since(start),
	)
	return snap, nil
}

// BuildSparse re-derives a sparse-only snapshot from the corpus directory
// without embedding or touching the vector store. Serving processes use it
// to reload the in-memory BM25 index after another process announces a
// rebuild; dense retrieval keeps reading the externally stored vectors.
func BuildSparse(ctx context.Context, dir string, chunkSize, overlap int, logger *slog.Logger) (*retrieval.Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("ingest: no supported documents in %s", dir)
	}

	parseAndChunk := fn.Then(ParseFile, NewChunk(chunkSize, overlap))
	var passages []domain.Passage
	for _, f := range files {
		chunked, err := parseAndChunk(ctx, f).Unwrap()
		if err != nil {
			logger.Warn("ingest: skipping file", "file", f.Name, "err", err)
			continue
		}
		passages = append(passages, chunked...)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("ingest: no passages extracted from %s", dir)
	}

	return &retrieval.Snapshot{
		Passages: passages,
		Sparse:   retrieval.NewSparseRanker(passages, retrieval.DefaultMinBM25Score),
		BuiltAt:  time.Now(),
	}, nil
}
