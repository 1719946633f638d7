// Package main implements the Parchment answer API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ParchmentAI/parchment/engine/domain"
	"github.com/ParchmentAI/parchment/engine/ingest"
	"github.com/ParchmentAI/parchment/engine/rag"
	"github.com/ParchmentAI/parchment/engine/retrieval"
	"github.com/ParchmentAI/parchment/engine/semantic"
	"github.com/ParchmentAI/parchment/pkg/metrics"
	"github.com/ParchmentAI/parchment/pkg/mid"
	"github.com/ParchmentAI/parchment/pkg/natsutil"
	"github.com/ParchmentAI/parchment/pkg/ollama"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

// streamFlushEvery is how many fragments are buffered per SSE event when
// citations are hidden, so citation markers split across fragment
// boundaries still get stripped.
const streamFlushEvery = 5

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	OllamaURL   string
	EmbedModel  string
	ChatModel   string
	Temperature float64
	QdrantURL   string
	Collection  string
	NATSURL     string
	CorpusDir   string
	CORSOrigin  string
	RateRPS     float64
	RateBurst   int
	Hybrid      bool
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:  envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:   envOr("CHAT_MODEL", "llama3.1"),
		Temperature: envFloat("CHAT_TEMPERATURE", 0.3),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "parchment"),
		NATSURL:     envOr("NATS_URL", ""),
		CorpusDir:   envOr("CORPUS_DIR", ""),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		RateRPS:     envFloat("RATE_LIMIT_RPS", 10),
		RateBurst:   envInt("RATE_LIMIT_BURST", 20),
		Hybrid:      envOr("HYBRID_RETRIEVAL", "true") == "true",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Ollama clients ---
	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	chat := ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel, cfg.Temperature)

	// --- Retrieval ---
	dense, err := retrieval.NewDenseRanker(embedder, vectorStore, retrieval.DefaultMinSimilarity, logger)
	if err != nil {
		return err
	}
	snapshots := &retrieval.Holder{}
	if cfg.CorpusDir != "" {
		// Vectors persist in Qdrant across restarts; only the in-memory
		// sparse index needs rebuilding from disk.
		snap, err := ingest.BuildSparse(ctx, cfg.CorpusDir, ingest.DefaultChunkSize, ingest.DefaultOverlap, logger)
		if err != nil {
			logger.Warn("sparse index unavailable at startup", "err", err)
		} else {
			snapshots.Swap(snap)
			logger.Info("sparse index loaded", "passages", len(snap.Passages))
		}
	}

	// --- RAG service ---
	opts := rag.DefaultOptions()
	opts.Hybrid = cfg.Hybrid
	ragSvc, err := rag.New(dense, snapshots, &llmAdapter{client: chat}, opts, logger, reg)
	if err != nil {
		return err
	}

	// --- NATS (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsutil.Connect(cfg.NATSURL, "parchment-api")
		if err != nil {
			return err
		}
		defer nc.Close()

		// Other processes rebuilding the corpus invalidate our sparse index.
		_, err = natsutil.Subscribe(nc, ingest.RebuiltSubject, func(ctx context.Context, ev ingest.RebuiltEvent) {
			if cfg.CorpusDir == "" {
				return
			}
			snap, err := ingest.BuildSparse(ctx, cfg.CorpusDir, ingest.DefaultChunkSize, ingest.DefaultOverlap, logger)
			if err != nil {
				logger.Error("sparse reload after rebuild failed", "err", err)
				return
			}
			snap.Vectors = uint64(ev.Passages)
			snapshots.Swap(snap)
			logger.Info("sparse index reloaded", "passages", len(snap.Passages), "built_at", ev.BuiltAt)
		})
		if err != nil {
			return err
		}
	}

	srv := &server{
		rag:       ragSvc,
		store:     vectorStore,
		snapshots: snapshots,
		rebuild: rebuildDeps{
			dir: cfg.CorpusDir,
			deps: ingest.Deps{
				Embedder:   embedder,
				Store:      vectorStore,
				ChunkSize:  ingest.DefaultChunkSize,
				Overlap:    ingest.DefaultOverlap,
				EmbedBatch: ingest.DefaultEmbedBatch,
				Logger:     logger,
			},
			nc: nc,
		},
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/stats", srv.handleStats)
	mux.HandleFunc("POST /api/query", srv.handleQuery)
	mux.HandleFunc("GET /api/query/stream", srv.handleQueryStream)
	mux.HandleFunc("POST /api/rebuild", srv.handleRebuild)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateRPS, cfg.RateBurst),
		mid.OTel("parchment-api"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// --- Server ---

type rebuildDeps struct {
	dir  string
	deps ingest.Deps
	nc   *nats.Conn
}

type server struct {
	rag       *rag.Service
	store     *semantic.VectorStore
	snapshots *retrieval.Holder
	rebuild   rebuildDeps
	rebuildMu sync.Mutex
	logger    *slog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Passages int       `json:"passages"`
	Vectors  uint64    `json:"vectors"`
	Dims     int       `json:"dims,omitempty"`
	BuiltAt  time.Time `json:"built_at,omitempty"`
	Sparse   bool      `json:"sparse_index"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if snap := s.snapshots.Load(); snap != nil {
		resp.Passages = len(snap.Passages)
		resp.Dims = snap.Dims
		resp.BuiltAt = snap.BuiltAt
		resp.Sparse = snap.Sparse != nil
	}
	if n, err := s.store.CountVectors(r.Context()); err == nil {
		resp.Vectors = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Question string `json:"question"`
	// RefusalMessage, when set, replaces the stock no-evidence reply.
	RefusalMessage string `json:"refusal_message,omitempty"`
}

// QueryResponse is the JSON response for POST /api/query.
type QueryResponse struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations,omitempty"`
	Refused   bool     `json:"refused,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := s.rag.Answer(r.Context(), req.Question, req.RefusalMessage)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuestion) || errors.Is(err, domain.ErrQuestionLength) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:    answer.Text,
		Citations: answer.Citations,
		Refused:   answer.Refused,
		Degraded:  answer.Degraded,
	})
}

// streamEvent is one SSE data payload on GET /api/query/stream.
type streamEvent struct {
	Text      string   `json:"text,omitempty"`
	Done      bool     `json:"done,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Refused   bool     `json:"refused,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
}

func (s *server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	showCitations := r.URL.Query().Get("show_citations") != "false"

	stream, err := s.rag.AnswerStream(r.Context(), question, r.URL.Query().Get("refusal_message"))
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuestion) || errors.Is(err, domain.ErrQuestionLength) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("stream open failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(ev streamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	// With citations hidden, fragments are buffered so markers that span
	// fragment boundaries are still removed whole.
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := joinFragments(buf)
		buf = buf[:0]
		if !showCitations {
			text = rag.StripCitations(text)
		}
		if text != "" {
			emit(streamEvent{Text: text})
		}
	}

	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn("stream interrupted", "err", err)
			break
		}
		if showCitations {
			emit(streamEvent{Text: frag})
			continue
		}
		buf = append(buf, frag)
		if len(buf) >= streamFlushEvery {
			flush()
		}
	}
	flush()

	done := streamEvent{Done: true, Refused: stream.Refused(), Degraded: stream.Degraded()}
	if showCitations {
		done.Citations = stream.Citations()
	}
	emit(done)
}

func joinFragments(fragments []string) string {
	if len(fragments) == 1 {
		return fragments[0]
	}
	return strings.Join(fragments, "")
}

// RebuildResponse is the JSON response for POST /api/rebuild.
type RebuildResponse struct {
	Passages int       `json:"passages"`
	Vectors  uint64    `json:"vectors"`
	Dims     int       `json:"dims"`
	BuiltAt  time.Time `json:"built_at"`
}

func (s *server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.rebuild.dir == "" {
		writeError(w, http.StatusUnprocessableEntity, "no corpus directory configured")
		return
	}
	if !s.rebuildMu.TryLock() {
		writeError(w, http.StatusConflict, "rebuild already in progress")
		return
	}
	defer s.rebuildMu.Unlock()

	snap, err := ingest.Rebuild(r.Context(), s.rebuild.dir, s.rebuild.deps)
	if err != nil {
		s.logger.Error("rebuild failed", "err", err)
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	s.snapshots.Swap(snap)

	if s.rebuild.nc != nil {
		ev := ingest.RebuiltEvent{
			Passages: len(snap.Passages),
			Sources:  countSources(snap.Passages),
			BuiltAt:  snap.BuiltAt,
		}
		if err := natsutil.Publish(r.Context(), s.rebuild.nc, ingest.RebuiltSubject, ev); err != nil {
			s.logger.Warn("rebuild event publish failed", "err", err)
		}
	}

	writeJSON(w, http.StatusOK, RebuildResponse{
		Passages: len(snap.Passages),
		Vectors:  snap.Vectors,
		Dims:     snap.Dims,
		BuiltAt:  snap.BuiltAt,
	})
}

func countSources(passages []domain.Passage) int {
	seen := make(map[string]struct{})
	for _, p := range passages {
		seen[p.SourceID] = struct{}{}
	}
	return len(seen)
}

// --- Adapters ---

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

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
