// Package rerank reorders retrieved candidates by relevance to the raw query.
package rerank

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/metrics"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

const DefaultFallbackCap = 20

// Reranker returns candidates most relevant first. Implementations may drop
// candidates but must not invent new ones.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error)
}

// None keeps the retrieval order.
type None struct{}

func (None) Rerank(_ context.Context, _ string, candidates []models.Candidate) ([]models.Candidate, error) {
	return candidates, nil
}

// Fallback wraps a strategy so that a failed re-rank degrades to the
// original order truncated to Cap instead of failing the query.
type Fallback struct {
	next Reranker
	name string
	cap  int
}

func NewFallback(name string, next Reranker, cap int) *Fallback {
	if cap <= 0 {
		cap = DefaultFallbackCap
	}
	return &Fallback{next: next, name: name, cap: cap}
}

func (f *Fallback) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	if len(candidates) == 0 {
		return []models.Candidate{}, nil
	}

	ranked, err := f.next.Rerank(ctx, query, candidates)
	if err == nil {
		return ranked, nil
	}

	metrics.RerankFallbacks.WithLabelValues(f.name).Inc()
	logger.Warn("Re-rank failed, using retrieval order",
		zap.String("strategy", f.name),
		zap.Int("candidates", len(candidates)),
		zap.Int("cap", f.cap),
		zap.Error(err),
	)

	n := len(candidates)
	if n > f.cap {
		n = f.cap
	}
	out := make([]models.Candidate, n)
	copy(out, candidates[:n])
	return out, nil
}

type Options struct {
	Provider    string
	Endpoint    string
	TimeoutSec  int
	FallbackCap int
}

// New builds the configured strategy wrapped in the fallback decorator.
func New(opts Options) (Reranker, error) {
	var strategy Reranker
	switch opts.Provider {
	case "http":
		strategy = NewHTTPReranker(opts.Endpoint, opts.TimeoutSec)
	case "local", "":
		strategy = NewBM25()
	case "none":
		strategy = None{}
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", opts.Provider)
	}

	logger.Info("Re-ranker initialized", zap.String("provider", opts.Provider))
	return NewFallback(opts.Provider, strategy, opts.FallbackCap), nil
}
