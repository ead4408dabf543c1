// Package evaluation scores pipeline answers against reference answers by
// embedding similarity.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/query"
	"github.com/legal-rag/backend/pkg/logger"
)

const (
	ClassIrrelevant    = "irrelevant"
	ClassModerate      = "moderate"
	ClassFullyRelevant = "fully_relevant"

	moderateThreshold = 0.5
	fullyThreshold    = 0.8

	evaluationUserID = "evaluation"
)

var ErrEmptyDataset = errors.New("evaluation dataset is empty")

type QueryRunner interface {
	ProcessQuery(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
}

type Embedder interface {
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
}

type Evaluator struct {
	engine   QueryRunner
	embedder Embedder
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Query       string `json:"query"`
	GroundTruth string `json:"ground_truth"`
}

type Result struct {
	Query          string  `json:"query"`
	QueryID        string  `json:"query_id,omitempty"`
	Similarity     float64 `json:"similarity"`
	Classification string  `json:"classification"`
	Degraded       bool    `json:"degraded"`
	Sources        int     `json:"sources"`
	Error          string  `json:"error,omitempty"`
}

type Report struct {
	TotalQueries            int      `json:"total_queries"`
	FailedCount             int      `json:"failed_count"`
	DegradedCount           int      `json:"degraded_count"`
	IrrelevantCount         int      `json:"irrelevant_count"`
	ModerateCount           int      `json:"moderate_count"`
	FullyRelevantCount      int      `json:"fully_relevant_count"`
	AvgSimilarity           float64  `json:"avg_similarity"`
	IrrelevantPercentage    float64  `json:"irrelevant_percentage"`
	ModeratePercentage      float64  `json:"moderate_percentage"`
	FullyRelevantPercentage float64  `json:"fully_relevant_percentage"`
	Results                 []Result `json:"results"`
}

func NewEvaluator(engine QueryRunner, embedder Embedder) *Evaluator {
	return &Evaluator{
		engine:   engine,
		embedder: embedder,
	}
}

func Classify(similarity float64) string {
	switch {
	case similarity >= fullyThreshold:
		return ClassFullyRelevant
	case similarity >= moderateThreshold:
		return ClassModerate
	default:
		return ClassIrrelevant
	}
}

// EvaluateItem runs one query through the pipeline and compares the
// detailed answer with the reference.
func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) (*Result, error) {
	resp, err := e.engine.ProcessQuery(ctx, query.QueryRequest{
		Query:  item.Query,
		UserID: evaluationUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to answer query: %w", err)
	}

	similarity, err := e.similarity(ctx, resp.Detailed, item.GroundTruth)
	if err != nil {
		return nil, fmt.Errorf("failed to compare with ground truth: %w", err)
	}

	result := &Result{
		Query:          item.Query,
		QueryID:        resp.ID,
		Similarity:     similarity,
		Classification: Classify(similarity),
		Degraded:       resp.Degraded,
		Sources:        len(resp.Sources),
	}

	logger.Info("Query evaluated",
		zap.String("query_id", resp.ID),
		zap.String("classification", result.Classification),
		zap.Float64("similarity", similarity),
	)
	return result, nil
}

// Run evaluates items one after another so the dataset stays inside the
// completion provider's rate limits. Item failures are reported, not fatal.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	if dataset == nil || len(dataset.Items) == 0 {
		return nil, ErrEmptyDataset
	}

	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		TotalQueries: len(dataset.Items),
		Results:      make([]Result, 0, len(dataset.Items)),
	}

	var totalSimilarity float64
	scored := 0

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.EvaluateItem(ctx, item)
		if err != nil {
			logger.Error("Failed to evaluate query", zap.Int("index", i), zap.Error(err))
			report.FailedCount++
			report.Results = append(report.Results, Result{Query: item.Query, Error: err.Error()})
			continue
		}

		switch result.Classification {
		case ClassIrrelevant:
			report.IrrelevantCount++
		case ClassModerate:
			report.ModerateCount++
		case ClassFullyRelevant:
			report.FullyRelevantCount++
		}
		if result.Degraded {
			report.DegradedCount++
		}

		totalSimilarity += result.Similarity
		scored++
		report.Results = append(report.Results, *result)
	}

	if scored > 0 {
		report.AvgSimilarity = totalSimilarity / float64(scored)
		report.IrrelevantPercentage = percent(report.IrrelevantCount, scored)
		report.ModeratePercentage = percent(report.ModerateCount, scored)
		report.FullyRelevantPercentage = percent(report.FullyRelevantCount, scored)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("failed", report.FailedCount),
		zap.Int("irrelevant", report.IrrelevantCount),
		zap.Int("moderate", report.ModerateCount),
		zap.Int("fully_relevant", report.FullyRelevantCount),
	)

	return report, nil
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

func (e *Evaluator) similarity(ctx context.Context, answer, groundTruth string) (float64, error) {
	if answer == "" || groundTruth == "" {
		return 0, nil
	}

	a, err := e.embedder.EmbedPassage(ctx, answer)
	if err != nil {
		return 0, err
	}
	b, err := e.embedder.EmbedPassage(ctx, groundTruth)
	if err != nil {
		return 0, err
	}

	return cosineSimilarity(a, b), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func ParseDataset(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

// FormatReport renders a plain-text summary.
func FormatReport(report *Report) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Queries: %d (failed: %d, degraded: %d)

Classifications:
- Irrelevant: %d (%.1f%%)
- Moderately Relevant: %d (%.1f%%)
- Fully Relevant: %d (%.1f%%)

Average Cosine Similarity: %.3f
`,
		report.TotalQueries, report.FailedCount, report.DegradedCount,
		report.IrrelevantCount, report.IrrelevantPercentage,
		report.ModerateCount, report.ModeratePercentage,
		report.FullyRelevantCount, report.FullyRelevantPercentage,
		report.AvgSimilarity,
	)
}
