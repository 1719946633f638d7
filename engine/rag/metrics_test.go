package rag

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/ParchmentAI/parchment/engine/retrieval"
	"github.com/ParchmentAI/parchment/pkg/metrics"
)

func TestServiceMetrics_CountRefusals(t *testing.T) {
	reg := metrics.New()
	svc, err := New(&mockDense{}, &retrieval.Holder{}, &mockGenerator{}, DefaultOptions(), slog.New(slog.DiscardHandler), reg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Answer(context.Background(), "Anything about llamas?", ""); err != nil {
		t.Fatal(err)
	}

	out := reg.Render()
	if !strings.Contains(out, "parchment_rag_queries_total 1") {
		t.Errorf("query counter missing:\n%s", out)
	}
	if !strings.Contains(out, "parchment_rag_refusals_total 1") {
		t.Errorf("refusal counter missing:\n%s", out)
	}
}

func TestServiceMetrics_NilRegistry(t *testing.T) {
	m := newServiceMetrics(nil)
	// Counters must be usable even without an exported registry.
	m.queries.Inc()
	m.refusals.Inc()
	if m.queries.Value() != 1 {
		t.Fatalf("counter value = %d", m.queries.Value())
	}
}
