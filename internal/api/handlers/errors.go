package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/chunk"
	"github.com/legal-rag/backend/internal/ingestion"
	"github.com/legal-rag/backend/internal/query"
	"github.com/legal-rag/backend/pkg/logger"
)

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// writeError maps domain errors onto HTTP status codes. Upstream failures
// are logged and reported with the generic message.
func writeError(c *fiber.Ctx, err error, generic string) error {
	switch {
	case errors.Is(err, ingestion.ErrInvalidInput),
		errors.Is(err, chunk.ErrInvalidDocumentID),
		errors.Is(err, query.ErrEmptyQuery):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ingestion.ErrDocumentNotFound):
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, ingestion.ErrDocumentExists):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	}

	logger.Error(generic,
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return errorJSON(c, fiber.StatusInternalServerError, generic)
}
