package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{Logger: zap.NewNop()}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/documents", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func postJSON(app *fiber.App, path, body string) int {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		return -1
	}
	return resp.StatusCode
}

func TestChatValidationAccepts(t *testing.T) {
	app := testApp()

	code := postJSON(app, "/api/v1/chat",
		`{"messages":[{"role":"system","content":"You are a pirate."},{"role":"user","content":"hi"}]}`)
	assert.Equal(t, fiber.StatusOK, code)
}

func TestChatValidationRejectsEmptyMessages(t *testing.T) {
	app := testApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(app, "/api/v1/chat", `{"messages":[]}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(app, "/api/v1/chat", `{}`))
}

func TestChatValidationRejectsUnknownRole(t *testing.T) {
	app := testApp()

	code := postJSON(app, "/api/v1/chat",
		`{"messages":[{"role":"wizard","content":"hi"}]}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestChatValidationRequiresUserMessage(t *testing.T) {
	app := testApp()

	code := postJSON(app, "/api/v1/chat",
		`{"messages":[{"role":"system","content":"You are a pirate."}]}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestChatValidationRejectsBadTopK(t *testing.T) {
	app := testApp()

	code := postJSON(app, "/api/v1/chat",
		`{"messages":[{"role":"user","content":"hi"}],"top_k":500}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestChatValidationRejectsInvalidJSON(t *testing.T) {
	app := testApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(app, "/api/v1/chat", `{not json`))
}

func TestDocumentValidationRequiresSource(t *testing.T) {
	app := testApp()

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(app, "/api/v1/documents", `{"content":"text"}`))
	assert.Equal(t, fiber.StatusOK,
		postJSON(app, "/api/v1/documents", `{"source":"guide.md","content":"text"}`))
}

func TestUnsupportedContentType(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "application/xml")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}
