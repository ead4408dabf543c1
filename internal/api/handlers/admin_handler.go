package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/legal-rag/backend/internal/evaluation"
)

type CacheFlusher interface {
	Flush(ctx context.Context) (int, error)
}

type DatasetEvaluator interface {
	Run(ctx context.Context, dataset *evaluation.Dataset) (*evaluation.Report, error)
}

type AdminHandler struct {
	cache     CacheFlusher
	evaluator DatasetEvaluator
}

// NewAdminHandler takes a nil cache when the embedding cache is disabled.
func NewAdminHandler(cache CacheFlusher, evaluator DatasetEvaluator) *AdminHandler {
	return &AdminHandler{
		cache:     cache,
		evaluator: evaluator,
	}
}

func (h *AdminHandler) FlushEmbeddings(c *fiber.Ctx) error {
	if h.cache == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "Embedding cache is disabled")
	}

	removed, err := h.cache.Flush(c.Context())
	if err != nil {
		return writeError(c, err, "Failed to flush embedding cache")
	}

	return c.JSON(fiber.Map{
		"removed": removed,
	})
}

// Evaluate runs a {items: [{query, ground_truth}]} dataset. ?format=text
// returns the plain-text summary instead of JSON.
func (h *AdminHandler) Evaluate(c *fiber.Ctx) error {
	dataset, err := evaluation.ParseDataset(c.Body())
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid dataset")
	}

	report, err := h.evaluator.Run(c.Context(), dataset)
	if errors.Is(err, evaluation.ErrEmptyDataset) {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return writeError(c, err, "Failed to run evaluation")
	}

	if c.Query("format") == "text" {
		return c.SendString(evaluation.FormatReport(report))
	}
	return c.JSON(report)
}
