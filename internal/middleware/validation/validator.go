package validation

import (
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const DefaultMaxQueryLength = 4000

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength  int
	MaxDocumentSize int
	Logger          *zap.Logger
}

func (cfg *Config) defaults() {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	if cfg.MaxDocumentSize <= 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

func badRequest(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// JSONBody rejects POST and PUT requests whose body is not JSON.
func JSONBody() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}
		if len(c.Body()) == 0 {
			return c.Next()
		}
		mediaType, _, err := mime.ParseMediaType(c.Get(fiber.HeaderContentType))
		if err != nil || mediaType != fiber.MIMEApplicationJSON {
			return badRequest(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}
		return c.Next()
	}
}

// Query validates the {query} body of a query request.
func Query(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		var req struct {
			Query *string `json:"query"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, fiber.StatusBadRequest, "Invalid JSON format")
		}
		if req.Query == nil || strings.TrimSpace(*req.Query) == "" {
			return badRequest(c, fiber.StatusBadRequest, "Query is required and must be a string")
		}
		if err := CheckQuery(*req.Query, cfg.MaxQueryLength); err != "" {
			cfg.Logger.Warn("Rejected query",
				zap.String("ip", c.IP()),
				zap.String("reason", err),
			)
			return badRequest(c, fiber.StatusBadRequest, err)
		}
		return c.Next()
	}
}

// CheckQuery returns a client-facing reason when query is unacceptable, or "".
func CheckQuery(query string, maxLength int) string {
	if utf8.RuneCountInString(query) > maxLength {
		return "Query exceeds maximum length"
	}
	if xssPattern.MatchString(query) {
		return "Invalid query content"
	}
	return ""
}

// Document bounds the size of submitted document content.
func Document(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		var req struct {
			Content string `json:"content"`
			HTML    string `json:"html"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, fiber.StatusBadRequest, "Invalid JSON format")
		}
		if len(req.Content) > cfg.MaxDocumentSize || len(req.HTML) > cfg.MaxDocumentSize {
			return badRequest(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
		}
		return c.Next()
	}
}

// SanitizeQuery trims the query and strips NUL bytes.
func SanitizeQuery(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
