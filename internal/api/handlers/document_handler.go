package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/ingestion"
	"github.com/legal-rag/backend/internal/kg/neo4j"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

type DocumentService interface {
	Create(ctx context.Context, category models.Category, in ingestion.DocumentInput) (*ingestion.Result, error)
	Update(ctx context.Context, category models.Category, id string, in ingestion.DocumentInput) (*ingestion.Result, error)
	Delete(ctx context.Context, category models.Category, id string) error
	Get(ctx context.Context, category models.Category, id string) (*models.Document, error)
	List(ctx context.Context, category models.Category) ([]models.Document, error)
}

type RelatedFinder interface {
	Related(ctx context.Context, category models.Category, id string, limit int) ([]neo4j.RelatedDocument, error)
}

type SyncFailureLister interface {
	ListSyncFailures(ctx context.Context, limit int) ([]models.SyncFailure, error)
}

type DocumentHandler struct {
	processor DocumentService
	related   RelatedFinder
	failures  SyncFailureLister
}

// NewDocumentHandler wires the document routes. related may be nil when the
// citation graph is disabled.
func NewDocumentHandler(processor DocumentService, related RelatedFinder, failures SyncFailureLister) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		related:   related,
		failures:  failures,
	}
}

func (h *DocumentHandler) CreateDocument(c *fiber.Ctx) error {
	category, err := models.ParseCategory(c.Params("category"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	var in ingestion.DocumentInput
	if err := c.BodyParser(&in); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.processor.Create(c.Context(), category, in)
	if err != nil {
		return writeError(c, err, "Failed to create document")
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *DocumentHandler) UpdateDocument(c *fiber.Ctx) error {
	category, err := models.ParseCategory(c.Params("category"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	var in ingestion.DocumentInput
	if err := c.BodyParser(&in); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.processor.Update(c.Context(), category, c.Params("id"), in)
	if err != nil {
		return writeError(c, err, "Failed to update document")
	}
	return c.JSON(result)
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	category, err := models.ParseCategory(c.Params("category"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	id := c.Params("id")
	if err := h.processor.Delete(c.Context(), category, id); err != nil {
		return writeError(c, err, "Failed to delete document")
	}
	return c.JSON(fiber.Map{
		"message": "Document deleted",
		"id":      id,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	category, err := models.ParseCategory(c.Params("category"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	doc, err := h.processor.Get(c.Context(), category, c.Params("id"))
	if err != nil {
		return writeError(c, err, "Failed to load document")
	}
	return c.JSON(doc)
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	category, err := models.ParseCategory(c.Params("category"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	docs, err := h.processor.List(c.Context(), category)
	if err != nil {
		return writeError(c, err, "Failed to list documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return c.JSON(fiber.Map{
		"documents": docs,
	})
}

func (h *DocumentHandler) RelatedDocuments(c *fiber.Ctx) error {
	category, err := models.ParseCategory(c.Params("category"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if h.related == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "Citation graph is disabled")
	}

	id := c.Params("id")
	if _, err := h.processor.Get(c.Context(), category, id); err != nil {
		return writeError(c, err, "Failed to load document")
	}

	related, err := h.related.Related(c.Context(), category, id, c.QueryInt("limit", 10))
	if err != nil {
		return writeError(c, err, "Failed to load related documents")
	}
	if related == nil {
		related = []neo4j.RelatedDocument{}
	}
	return c.JSON(fiber.Map{
		"related": related,
	})
}

func (h *DocumentHandler) ListSyncFailures(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "limit must be positive")
	}

	failures, err := h.failures.ListSyncFailures(c.Context(), limit)
	if err != nil {
		return writeError(c, err, "Failed to list sync failures")
	}
	if failures == nil {
		failures = []models.SyncFailure{}
	}
	return c.JSON(fiber.Map{
		"failures": failures,
	})
}
