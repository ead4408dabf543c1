package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/middleware/validation"
	"github.com/legal-rag/backend/internal/query"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
	ProcessQueryWithProgress(ctx context.Context, req query.QueryRequest, progress query.ProgressFunc) (*query.QueryResponse, error)
}

type HistoryStore interface {
	GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type QueryHandler struct {
	queryEngine QueryProcessor
	history     HistoryStore
}

func NewQueryHandler(queryEngine QueryProcessor, history HistoryStore) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
		history:     history,
	}
}

type queryRequest struct {
	Query    string           `json:"query"`
	UserID   string           `json:"user_id"`
	Settings *models.Settings `json:"settings"`
}

func (r queryRequest) toEngine(c *fiber.Ctx) query.QueryRequest {
	userID := r.UserID
	if userID == "" {
		userID = c.Get("X-User-ID")
	}
	return query.QueryRequest{
		Query:    validation.SanitizeQuery(r.Query),
		UserID:   userID,
		Settings: r.Settings,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	response, err := h.queryEngine.ProcessQuery(c.Context(), req.toEngine(c))
	if err != nil {
		return writeError(c, err, "Failed to process query")
	}

	return c.JSON(response)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "limit must be positive")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.history.GetQueryHistory(c.Context(), limit)
	if err != nil {
		return writeError(c, err, "Failed to load query history")
	}
	if records == nil {
		records = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
