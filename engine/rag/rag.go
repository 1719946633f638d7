// Package rag orchestrates retrieval, context assembly, generation, and
// citation guardrails. Per query it walks a fixed state machine:
// RETRIEVE -> (empty? REFUSE) -> ASSEMBLE -> GENERATE -> (failed? DEGRADE)
// -> GUARD -> DONE. Retrieval-empty and generation failure are terminal
// answers, not errors: all failures are absorbed here and converted into
// user-safe text.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ParchmentAI/parchment/engine/domain"
	"github.com/ParchmentAI/parchment/engine/retrieval"
	"github.com/ParchmentAI/parchment/pkg/metrics"
)

// Generator is the consumed generation capability. Retry and circuit
// breaking, if any, belong behind this interface, not to the orchestrator.
type Generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Stream(ctx context.Context, system, prompt string) (FragmentStream, error)
}

// FragmentStream is a pull-based, finite, non-restartable sequence of text
// fragments. Recv returns io.EOF after the final fragment. A consumer that
// stops pulling and calls Close abandons the stream without further work.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// DenseSearcher is the dense ranking capability (see retrieval.DenseRanker).
type DenseSearcher interface {
	Search(ctx context.Context, query string, k int) []retrieval.ScoredHit
}

// Options configures the pipeline. Zero values are rejected by New; use
// DefaultOptions as the base.
type Options struct {
	// Hybrid enables the sparse ranker alongside dense retrieval.
	Hybrid bool
	// DenseTopK and SparseTopK bound each ranker's candidate set.
	DenseTopK  int
	SparseTopK int
	// FusedTopK truncates the fused ranking.
	FusedTopK int
	// RRFK is the rank damping constant for reciprocal rank fusion.
	RRFK int
	// ContextBudget is the context ceiling in characters.
	ContextBudget int
	// MaxCitations bounds distinct citations in context and in the guarded
	// answer.
	MaxCitations int
	// SystemPrompt is the fixed system instruction for generation.
	SystemPrompt string
	// Refusal is returned when retrieval produces no evidence.
	Refusal string
	// Degraded is returned when the generation capability fails.
	Degraded string
	// UnverifiedNote is appended when the model answers without citations.
	UnverifiedNote string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Hybrid:         true,
		DenseTopK:      6,
		SparseTopK:     20,
		FusedTopK:      3,
		RRFK:           retrieval.DefaultRRFK,
		ContextBudget:  2500,
		MaxCitations:   3,
		SystemPrompt:   DefaultSystemPrompt,
		Refusal:        "I couldn't find relevant information in the indexed documents. Try rephrasing the question or adding more sources.",
		Degraded:       "The answer engine had a temporary problem processing this request. Please try again shortly.",
		UnverifiedNote: "Note: this answer could not be verified against the indexed documents.",
	}
}

func (o Options) validate() error {
	if o.DenseTopK <= 0 || o.SparseTopK <= 0 || o.FusedTopK <= 0 {
		return fmt.Errorf("rag: %w: top-k values must be positive", domain.ErrBadConfig)
	}
	if o.RRFK <= 0 {
		return fmt.Errorf("rag: %w: rrf constant must be positive", domain.ErrBadConfig)
	}
	if o.ContextBudget <= 0 || o.MaxCitations <= 0 {
		return fmt.Errorf("rag: %w: context budget and citation ceiling must be positive", domain.ErrBadConfig)
	}
	if o.Refusal == "" || o.Degraded == "" {
		return fmt.Errorf("rag: %w: refusal and degraded messages must be set", domain.ErrBadConfig)
	}
	return nil
}

// Service answers questions against the current corpus snapshot.
type Service struct {
	dense     DenseSearcher
	snapshots *retrieval.Holder
	llm       Generator
	opts      Options
	logger    *slog.Logger
	met       *serviceMetrics
}

// New creates a Service. reg may be nil to disable metrics.
func New(dense DenseSearcher, snapshots *retrieval.Holder, llm Generator, opts Options, logger *slog.Logger, reg *metrics.Registry) (*Service, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if dense == nil || snapshots == nil || llm == nil {
		return nil, fmt.Errorf("rag: %w: dense searcher, snapshot holder and generator are required", domain.ErrBadConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dense:     dense,
		snapshots: snapshots,
		llm:       llm,
		opts:      opts,
		logger:    logger,
		met:       newServiceMetrics(reg),
	}, nil
}

// Answer is a complete, guarded response.
type Answer struct {
	// Text is the final, citation-bounded answer.
	Text string `json:"text"`
	// Raw is the unguarded model output; empty on refusal and degrade.
	Raw string `json:"-"`
	// Citations are the context citations offered to the model.
	Citations []string `json:"citations,omitempty"`
	// Refused is set when retrieval found no evidence.
	Refused bool `json:"refused,omitempty"`
	// Degraded is set when the generation capability failed.
	Degraded bool `json:"degraded,omitempty"`
}

// Answer runs the blocking query path. refusalOverride replaces the
// configured refusal message when non-empty. The returned error is non-nil
// only for invalid questions; pipeline failures are absorbed into the
// Answer itself.
func (s *Service) Answer(ctx context.Context, question, refusalOverride string) (*Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	start := time.Now()
	s.met.queries.Inc()

	hits := s.retrieve(ctx, question)
	if len(hits) == 0 {
		s.met.refusals.Inc()
		s.logger.Info("rag refuse, no evidence", "question_len", len(question))
		return &Answer{Text: s.refusal(refusalOverride), Refused: true}, nil
	}

	block := AssembleContext(hits, s.opts.ContextBudget, s.opts.MaxCitations)

	raw, err := s.llm.Complete(ctx, s.opts.SystemPrompt, buildPrompt(question, block.Text))
	if err != nil {
		s.met.degraded.Inc()
		s.logger.Warn("rag generation failed, degrading", "err", err)
		return &Answer{Text: s.opts.Degraded, Citations: block.Citations, Degraded: true}, nil
	}

	text := strings.TrimSpace(raw)
	if !HasCitation(text) {
		s.met.nudged.Inc()
		text = text + "\n\n" + s.opts.UnverifiedNote
	}
	text = strings.TrimSpace(LimitCitations(text, s.opts.MaxCitations))

	s.met.answerSeconds.Since(start)
	return &Answer{Text: text, Raw: raw, Citations: block.Citations}, nil
}

// retrieve runs both rankers, fuses their output, and falls back to the
// strongest raw list if fusion degenerately empties.
func (s *Service) retrieve(ctx context.Context, question string) []retrieval.FusedHit {
	denseHits := s.dense.Search(ctx, question, s.opts.DenseTopK)

	var sparseHits []retrieval.ScoredHit
	if s.opts.Hybrid {
		if snap := s.snapshots.Load(); snap != nil {
			sparseHits = snap.Sparse.Search(question, s.opts.SparseTopK)
		}
	}

	fused := retrieval.FuseRRF(denseHits, sparseHits, s.opts.RRFK, s.opts.FusedTopK)
	if len(fused) == 0 {
		switch {
		case len(denseHits) > 0:
			fused = retrieval.FallbackFused(denseHits, true)
		case len(sparseHits) > 0:
			fused = retrieval.FallbackFused(sparseHits, false)
		}
		if len(fused) > s.opts.FusedTopK {
			fused = fused[:s.opts.FusedTopK]
		}
	}

	s.logger.Debug("rag retrieve",
		"dense", len(denseHits),
		"sparse", len(sparseHits),
		"fused", len(fused),
	)
	return fused
}

func (s *Service) refusal(override string) string {
	if override != "" {
		return override
	}
	return s.opts.Refusal
}
