package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/legal-rag/backend/internal/storage/models"
)

type SettingsStore interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	SetSetting(ctx context.Context, title, value string) error
}

type SettingsHandler struct {
	store SettingsStore
}

func NewSettingsHandler(store SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GetSettings never fails: an unreadable table reports every source enabled,
// which is what the query pipeline will use.
func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.store.GetSettings(c.Context())
	if err != nil {
		settings = models.DefaultSettings()
	}
	return c.JSON(settings)
}

func (h *SettingsHandler) UpdateSetting(c *fiber.Ctx) error {
	var req struct {
		Title string      `json:"title"`
		Value interface{} `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	title := strings.TrimSpace(req.Title)
	value := settingValue(req.Value)
	if title == "" || value == "" {
		return errorJSON(c, fiber.StatusBadRequest, "title and value are required")
	}

	if err := h.store.SetSetting(c.Context(), title, value); err != nil {
		return writeError(c, err, "Failed to update setting")
	}
	return c.JSON(fiber.Map{
		"title": title,
		"value": value,
	})
}

// settingValue accepts JSON strings and booleans.
func settingValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
