// Package retrieval fetches and hydrates candidates from every enabled source.
package retrieval

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/legal-rag/backend/internal/metrics"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/internal/vector/zilliz"
	"github.com/legal-rag/backend/pkg/logger"
)

type VectorSearcher interface {
	Search(ctx context.Context, category models.Category, vector []float32, topK int) ([]zilliz.Match, error)
}

type ChunkStore interface {
	GetChunk(ctx context.Context, category models.Category, rowID string) (*models.Chunk, error)
}

type Retriever struct {
	vectors   VectorSearcher
	store     ChunkStore
	topK      int
	threshold float32
}

func NewRetriever(vectors VectorSearcher, store ChunkStore, topK int, threshold float32) *Retriever {
	return &Retriever{
		vectors:   vectors,
		store:     store,
		topK:      topK,
		threshold: threshold,
	}
}

// FilterByScore keeps matches scoring at or above threshold.
func FilterByScore(matches []zilliz.Match, threshold float32) []zilliz.Match {
	kept := make([]zilliz.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}
	return kept
}

// Retrieve queries every source concurrently. A failing source contributes
// nothing; only cancellation of ctx is returned as an error. Results are
// grouped by source in the order given, best score first within a source.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, sources []models.Category) ([]models.Candidate, error) {
	perSource := make([][]models.Candidate, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range sources {
		i, category := i, category
		g.Go(func() error {
			perSource[i] = r.retrieveSource(gctx, vector, category)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []models.Candidate
	for _, cs := range perSource {
		candidates = append(candidates, cs...)
	}

	logger.Info("Retrieval completed",
		zap.Int("sources", len(sources)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (r *Retriever) retrieveSource(ctx context.Context, vector []float32, category models.Category) []models.Candidate {
	matches, err := r.vectors.Search(ctx, category, vector, r.topK)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues(string(category), "search").Inc()
		logger.Error("Vector search failed",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return nil
	}

	kept := FilterByScore(matches, r.threshold)

	candidates := make([]models.Candidate, 0, len(kept))
	for _, m := range kept {
		ch, err := r.store.GetChunk(ctx, category, m.ID)
		if err != nil {
			metrics.RetrievalErrors.WithLabelValues(string(category), "hydrate").Inc()
			logger.Warn("Dropping candidate that could not be hydrated",
				zap.String("category", string(category)),
				zap.String("id", m.ID),
				zap.Error(err),
			)
			continue
		}

		content := ch.Content
		if content == "" {
			content = ch.Title
		}
		if content == "" {
			continue
		}

		candidates = append(candidates, models.Candidate{
			Category:   category,
			ID:         strconv.FormatInt(ch.RowID, 10),
			DocumentID: ch.DocumentID,
			Title:      ch.Title,
			Content:    content,
			Score:      m.Score,
		})
	}

	metrics.RetrievalHits.WithLabelValues(string(category)).Add(float64(len(candidates)))
	logger.Debug("Source retrieved",
		zap.String("category", string(category)),
		zap.Int("matches", len(matches)),
		zap.Int("above_threshold", len(kept)),
		zap.Int("hydrated", len(candidates)),
	)
	return candidates
}
