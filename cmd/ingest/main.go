// Command ingest rebuilds the corpus from a directory of markdown and
// plain-text documents: parse, chunk, embed into Qdrant, and announce the
// new snapshot over NATS so serving processes reload their sparse index.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ParchmentAI/parchment/engine/ingest"
	"github.com/ParchmentAI/parchment/engine/retrieval"
	"github.com/ParchmentAI/parchment/engine/semantic"
	"github.com/ParchmentAI/parchment/pkg/metrics"
	"github.com/ParchmentAI/parchment/pkg/natsutil"
	"github.com/ParchmentAI/parchment/pkg/ollama"
)

var met = metrics.New()

var (
	mRebuilds   = met.Counter("parchment_ingest_rebuilds_total", "Completed corpus rebuilds")
	mPassages   = met.Gauge("parchment_ingest_passages", "Passages in the last snapshot")
	mRebuildDur = met.Histogram("parchment_ingest_rebuild_duration_seconds", "Full rebuild time", nil)
)

func main() {
	var (
		dir         = flag.String("dir", "./corpus", "directory of .md/.txt documents")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		embedModel  = flag.String("model", "nomic-embed-text", "Ollama embedding model")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "parchment", "Qdrant collection name")
		natsURL     = flag.String("nats", "", "NATS server URL (empty disables the rebuilt event)")
		chunkSize   = flag.Int("chunk-size", ingest.DefaultChunkSize, "chunk size in characters")
		overlap     = flag.Int("overlap", ingest.DefaultOverlap, "chunk overlap in characters")
		batch       = flag.Int("batch", ingest.DefaultEmbedBatch, "embedding batch size")
		metricsPort = flag.Int("metrics-port", 0, "metrics port (0 disables)")
		timeout     = flag.Duration("timeout", 30*time.Minute, "overall rebuild deadline")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *metricsPort > 0 {
		met.ServeAsync(*metricsPort)
	}

	if err := run(*dir, *ollamaURL, *embedModel, *qdrantAddr, *collection, *natsURL, *chunkSize, *overlap, *batch, *timeout, logger); err != nil {
		logger.Error("rebuild failed", "err", err)
		os.Exit(1)
	}
}

func run(dir, ollamaURL, embedModel, qdrantAddr, collection, natsURL string, chunkSize, overlap, batch int, timeout time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := semantic.New(qdrantAddr, collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	start := time.Now()
	snap, err := ingest.Rebuild(ctx, dir, ingest.Deps{
		Embedder:   ollama.NewEmbedClient(ollamaURL, embedModel),
		Store:      store,
		ChunkSize:  chunkSize,
		Overlap:    overlap,
		EmbedBatch: batch,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	mRebuilds.Inc()
	mPassages.Set(int64(len(snap.Passages)))
	mRebuildDur.Since(start)

	if natsURL != "" {
		nc, err := natsutil.Connect(natsURL, "parchment-ingest")
		if err != nil {
			return err
		}
		defer nc.Close()

		ev := ingest.RebuiltEvent{
			Passages: len(snap.Passages),
			Sources:  countSources(snap),
			BuiltAt:  snap.BuiltAt,
		}
		if err := natsutil.Publish(ctx, nc, ingest.RebuiltSubject, ev); err != nil {
			return err
		}
		// Give the async publish a moment to leave the client buffer.
		if err := nc.FlushTimeout(5 * time.Second); err != nil {
			logger.Warn("nats flush failed", "err", err)
		}
	}

	logger.Info("corpus rebuilt",
		"passages", len(snap.Passages),
		"dims", snap.Dims,
		"took", time.Since(start),
	)
	return nil
}

func countSources(snap *retrieval.Snapshot) int {
	seen := make(map[string]struct{})
	for _, p := range snap.Passages {
		seen[p.SourceID] = struct{}{}
	}
	return len(seen)
}
