package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/legal-rag/backend/internal/answer"
	"github.com/legal-rag/backend/internal/llm"
	"github.com/legal-rag/backend/internal/metrics"
	"github.com/legal-rag/backend/internal/prompt"
	"github.com/legal-rag/backend/internal/rerank"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

var ErrEmptyQuery = errors.New("query is required")

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt, userQuery string) (*llm.CompletionResponse, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, sources []models.Category) ([]models.Candidate, error)
}

type LanguageDetector interface {
	Detect(text string) models.Language
}

type Store interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageRetrieving Stage = "retrieving"
	StageReranking  Stage = "reranking"
	StageBudgeting  Stage = "budgeting"
	StageGenerating Stage = "generating"
)

// ProgressFunc is called as the pipeline enters each stage.
type ProgressFunc func(stage Stage)

type Engine struct {
	embedder  Embedder
	completer Completer
	retriever Retriever
	reranker  rerank.Reranker
	budgeter  *prompt.Budgeter
	detector  LanguageDetector
	store     Store
}

type QueryRequest struct {
	Query  string
	UserID string
	// Settings overrides the stored source toggles for this request.
	Settings *models.Settings
}

type QueryResponse struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Response     string          `json:"response"`
	Detailed     string          `json:"detailed"`
	Summarized   string          `json:"summarized"`
	Language     models.Language `json:"language"`
	Sources      []Source        `json:"sources"`
	Degraded     bool            `json:"degraded"`
	Candidates   int             `json:"candidates"`
	Evicted      int             `json:"evicted"`
	PromptTokens int             `json:"prompt_tokens"`
	LatencyMS    int64           `json:"latency_ms"`
}

type Source struct {
	Category   models.Category `json:"category"`
	Title      string          `json:"title"`
	DocumentID string          `json:"document_id"`
	ChunkRowID string          `json:"chunk_row_id"`
}

func NewEngine(
	embedder Embedder,
	completer Completer,
	retriever Retriever,
	reranker rerank.Reranker,
	budgeter *prompt.Budgeter,
	detector LanguageDetector,
	store Store,
) *Engine {
	return &Engine{
		embedder:  embedder,
		completer: completer,
		retriever: retriever,
		reranker:  reranker,
		budgeter:  budgeter,
		detector:  detector,
		store:     store,
	}
}

func (e *Engine) ProcessQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	return e.ProcessQueryWithProgress(ctx, req, nil)
}

func (e *Engine) ProcessQueryWithProgress(ctx context.Context, req QueryRequest, progress ProgressFunc) (*QueryResponse, error) {
	startTime := time.Now()
	queryID := uuid.New().String()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if progress == nil {
		progress = func(Stage) {}
	}

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("query", query),
	)

	settings := e.resolveSettings(ctx, req.Settings)

	progress(StageEmbedding)
	var (
		lang   models.Language
		vector []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lang = e.detector.Detect(query)
		return nil
	})
	g.Go(func() error {
		v, err := e.embedder.EmbedQuery(gctx, query)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.QueryTotal.WithLabelValues("embedding_error").Inc()
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	progress(StageRetrieving)
	candidates, err := e.retriever.Retrieve(ctx, vector, settings.EnabledCategories())
	if err != nil {
		metrics.QueryTotal.WithLabelValues("retrieval_error").Inc()
		return nil, fmt.Errorf("failed to retrieve candidates: %w", err)
	}

	progress(StageReranking)
	ranked, err := e.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("rerank_error").Inc()
		return nil, fmt.Errorf("failed to rerank candidates: %w", err)
	}

	progress(StageBudgeting)
	built, err := e.budgeter.Build(ranked, query, lang)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("prompt_error").Inc()
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}
	metrics.PromptTokens.Observe(float64(built.Tokens))
	metrics.CandidatesEvicted.Observe(float64(built.Evicted))

	progress(StageGenerating)
	completion, err := e.completer.Complete(ctx, built.Prompt, query)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("completion_error").Inc()
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	formatted, degraded := e.format(queryID, completion.Content)

	sources := make([]Source, len(built.Kept))
	for i, c := range built.Kept {
		sources[i] = Source{
			Category:   c.Category,
			Title:      c.Title,
			DocumentID: c.DocumentID,
			ChunkRowID: c.ID,
		}
	}

	latency := time.Since(startTime)
	resp := &QueryResponse{
		ID:           queryID,
		Query:        query,
		Response:     completion.Content,
		Detailed:     formatted.Detailed,
		Summarized:   formatted.Summarized,
		Language:     lang,
		Sources:      sources,
		Degraded:     degraded,
		Candidates:   len(candidates),
		Evicted:      built.Evicted,
		PromptTokens: built.Tokens,
		LatencyMS:    latency.Milliseconds(),
	}

	e.record(ctx, req.UserID, resp)

	status := "success"
	if degraded {
		status = "degraded"
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.WithLabelValues(string(lang)).Observe(latency.Seconds())

	logger.Info("Query processed successfully",
		zap.String("query_id", queryID),
		zap.String("language", string(lang)),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(built.Kept)),
		zap.Int("prompt_tokens", built.Tokens),
		zap.Bool("degraded", degraded),
		zap.Int64("latency_ms", resp.LatencyMS),
	)

	return resp, nil
}

func (e *Engine) resolveSettings(ctx context.Context, override *models.Settings) models.Settings {
	if override != nil {
		return *override
	}
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		logger.Warn("Failed to load settings, enabling all sources", zap.Error(err))
		return models.DefaultSettings()
	}
	return settings
}

func (e *Engine) format(queryID, raw string) (answer.Answer, bool) {
	formatted, err := answer.Format(raw)
	if err == nil {
		return formatted, false
	}

	logger.Warn("Model output missing section markers, returning raw text",
		zap.String("query_id", queryID),
		zap.Error(err),
	)
	return answer.Degraded(raw), true
}

func (e *Engine) record(ctx context.Context, userID string, resp *QueryResponse) {
	sources := make([]models.QuerySource, len(resp.Sources))
	for i, s := range resp.Sources {
		sources[i] = models.QuerySource{
			Category:   s.Category,
			ChunkRowID: s.ChunkRowID,
			DocumentID: s.DocumentID,
			Title:      s.Title,
			Rank:       i,
		}
	}

	err := e.store.InsertQueryRecord(context.WithoutCancel(ctx), &models.QueryRecord{
		ID:         resp.ID,
		UserID:     userID,
		QueryText:  resp.Query,
		Response:   resp.Response,
		Language:   resp.Language,
		Degraded:   resp.Degraded,
		Candidates: resp.Candidates,
		Evicted:    resp.Evicted,
		LatencyMS:  resp.LatencyMS,
		CreatedAt:  time.Now(),
		Sources:    sources,
	})
	if err != nil {
		logger.Error("Failed to record query", zap.String("query_id", resp.ID), zap.Error(err))
	}
}
