package rag

import "github.com/ParchmentAI/parchment/pkg/metrics"

// serviceMetrics collects per-query counters. When no registry is supplied
// the counters still exist, they just aren't exported anywhere.
type serviceMetrics struct {
	queries       *metrics.Counter
	refusals      *metrics.Counter
	degraded      *metrics.Counter
	nudged        *metrics.Counter
	answerSeconds *metrics.Histogram
}

func newServiceMetrics(reg *metrics.Registry) *serviceMetrics {
	if reg == nil {
		reg = metrics.New()
	}
	return &serviceMetrics{
		queries:       reg.Counter("parchment_rag_queries_total", "Total answer requests"),
		refusals:      reg.Counter("parchment_rag_refusals_total", "Queries refused for lack of evidence"),
		degraded:      reg.Counter("parchment_rag_degraded_total", "Queries degraded by generation failure"),
		nudged:        reg.Counter("parchment_rag_uncited_total", "Answers missing citations, caveat appended"),
		answerSeconds: reg.Histogram("parchment_rag_answer_seconds", "End-to-end blocking answer time", nil),
	}
}
