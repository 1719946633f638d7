// Command chat is an interactive terminal client for the answer engine.
// It wires the retrieval and generation stack in-process and streams
// answer fragments to the terminal as they arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ParchmentAI/parchment/engine/ingest"
	"github.com/ParchmentAI/parchment/engine/rag"
	"github.com/ParchmentAI/parchment/engine/retrieval"
	"github.com/ParchmentAI/parchment/engine/semantic"
	"github.com/ParchmentAI/parchment/pkg/ollama"
	"github.com/joho/godotenv"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	collection := envOr("QDRANT_COLLECTION", "parchment")
	embedModel := envOr("EMBED_MODEL", "nomic-embed-text")
	chatModel := envOr("CHAT_MODEL", "llama3.1")
	corpusDir := envOr("CORPUS_DIR", "")

	if err := run(ollamaURL, qdrantAddr, collection, embedModel, chatModel, corpusDir, logger); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func run(ollamaURL, qdrantAddr, collection, embedModel, chatModel, corpusDir string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(qdrantAddr, collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	embedder := ollama.NewEmbedClient(ollamaURL, embedModel)
	dense, err := retrieval.NewDenseRanker(embedder, store, retrieval.DefaultMinSimilarity, logger)
	if err != nil {
		return err
	}

	snapshots := &retrieval.Holder{}
	opts := rag.DefaultOptions()
	if corpusDir != "" {
		snap, err := ingest.BuildSparse(ctx, corpusDir, ingest.DefaultChunkSize, ingest.DefaultOverlap, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sparse index unavailable, dense-only retrieval:", err)
			opts.Hybrid = false
		} else {
			snapshots.Swap(snap)
		}
	} else {
		opts.Hybrid = false
	}

	chat := ollama.NewChatClient(ollamaURL, chatModel, 0.3)
	svc, err := rag.New(dense, snapshots, &llmAdapter{client: chat}, opts, logger, nil)
	if err != nil {
		return err
	}

	fmt.Println("parchment chat - ask about the indexed documents (ctrl-d to quit)")
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		question := strings.TrimSpace(in.Text())
		if question == "" {
			continue
		}
		if err := ask(ctx, svc, question); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func ask(ctx context.Context, svc *rag.Service, question string) error {
	stream, err := svc.AnswerStream(ctx, question, "")
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Println()
			return err
		}
		fmt.Print(frag)
	}
	fmt.Println()

	if cites := stream.Citations(); len(cites) > 0 && !stream.Refused() && !stream.Degraded() {
		fmt.Println("sources:")
		for _, c := range cites {
			fmt.Println("  ", c)
		}
	}
	return nil
}

// llmAdapter narrows ChatClient's concrete stream type to the interface
// the orchestrator consumes.
type llmAdapter struct {
	client *ollama.ChatClient
}

func (a *llmAdapter) Complete(ctx context.Context, system, prompt string) (string, error) {
	return a.client.Complete(ctx, system, prompt)
}

func (a *llmAdapter) Stream(ctx context.Context, system, prompt string) (rag.FragmentStream, error) {
	stream, err := a.client.Stream(ctx, system, prompt)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
