package rag

import (
	"context"
	"io"
	"strings"

	"github.com/ParchmentAI/parchment/engine/domain"
)

// Stream is the streaming query result: a lazy, finite sequence of
// text fragments. The RETRIEVE and ASSEMBLE steps run eagerly; generation
// fragments are pulled from the capability one Recv at a time, so a caller
// that stops consuming and closes the stream causes no further work. The
// citation-limiting and no-citation-nudge guardrails apply only to the
// blocking path; callers needing guarded streaming must buffer and
// post-process at their boundary (see StripCitations).
type Stream struct {
	src       FragmentStream
	citations []string
	refused   bool
	degraded  bool
}

// Recv returns the next fragment, or io.EOF when the stream ends.
func (a *Stream) Recv() (string, error) { return a.src.Recv() }

// Close abandons the stream.
func (a *Stream) Close() error { return a.src.Close() }

// Citations returns the context citations offered to the model.
func (a *Stream) Citations() []string { return a.citations }

// Refused reports whether the stream is a refusal (no evidence retrieved).
func (a *Stream) Refused() bool { return a.refused }

// Degraded reports whether the stream is a degraded fallback message.
func (a *Stream) Degraded() bool { return a.degraded }

// AnswerStream runs the streaming query path. The returned error is
// non-nil only for invalid questions; refusal and generation failure are
// returned as single-fragment terminal streams.
func (s *Service) AnswerStream(ctx context.Context, question, refusalOverride string) (*Stream, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	s.met.queries.Inc()

	hits := s.retrieve(ctx, question)
	if len(hits) == 0 {
		s.met.refusals.Inc()
		return &Stream{src: newStaticStream(s.refusal(refusalOverride)), refused: true}, nil
	}

	block := AssembleContext(hits, s.opts.ContextBudget, s.opts.MaxCitations)

	src, err := s.llm.Stream(ctx, s.opts.SystemPrompt, buildPrompt(question, block.Text))
	if err != nil {
		s.met.degraded.Inc()
		s.logger.Warn("rag stream open failed, degrading", "err", err)
		return &Stream{src: newStaticStream(s.opts.Degraded), citations: block.Citations, degraded: true}, nil
	}
	return &Stream{src: src, citations: block.Citations}, nil
}

// staticStream yields a fixed message as one fragment, then EOF.
type staticStream struct {
	fragments []string
	pos       int
}

func newStaticStream(text string) *staticStream {
	text = strings.TrimSpace(text)
	if text == "" {
		return &staticStream{}
	}
	return &staticStream{fragments: []string{text}}
}

func (s *staticStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *staticStream) Close() error { return nil }
