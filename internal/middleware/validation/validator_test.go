package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(JSONBody())
	handlers = append(handlers, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Post("/", handlers...)
	return app
}

func post(t *testing.T, app *fiber.App, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestQuery(t *testing.T) {
	app := newApp(Query(Config{MaxQueryLength: 10}))

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"valid", "application/json", `{"query":"vergi"}`, fiber.StatusNoContent},
		{"charset parameter", "application/json; charset=utf-8", `{"query":"vergi"}`, fiber.StatusNoContent},
		{"length counted in runes", "application/json", `{"query":"əəəəəəəəəə"}`, fiber.StatusNoContent},
		{"too long", "application/json", `{"query":"01234567890"}`, fiber.StatusBadRequest},
		{"missing", "application/json", `{}`, fiber.StatusBadRequest},
		{"blank", "application/json", `{"query":"   "}`, fiber.StatusBadRequest},
		{"not a string", "application/json", `{"query":5}`, fiber.StatusBadRequest},
		{"script", "application/json", `{"query":"<script>"}`, fiber.StatusBadRequest},
		{"malformed", "application/json", `{"query":`, fiber.StatusBadRequest},
		{"wrong content type", "text/plain", `{"query":"x"}`, fiber.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, app, tt.contentType, tt.body))
		})
	}
}

func TestQuery_LegalVocabularyIsAllowed(t *testing.T) {
	app := newApp(Query(Config{}))
	body := `{"query":"Can the tax office delete or update a filed return?"}`
	assert.Equal(t, fiber.StatusNoContent, post(t, app, "application/json", body))
}

func TestDocument(t *testing.T) {
	app := newApp(Document(Config{MaxDocumentSize: 8}))

	assert.Equal(t, fiber.StatusNoContent, post(t, app, "application/json", `{"content":"short"}`))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, post(t, app, "application/json", `{"content":"far too long"}`))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, post(t, app, "application/json", `{"html":"<p>far too long</p>"}`))
}

func TestSanitizeQuery(t *testing.T) {
	assert.Equal(t, "vergi", SanitizeQuery("  ver\x00gi \n"))
}
