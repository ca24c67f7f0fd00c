package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var allowedRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

type Config struct {
	MaxMessages         int
	MaxMessageLength    int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed chat and document payloads before they
// reach a handler. Handlers re-parse the body themselves; this layer only
// enforces shape and size.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 100
	}
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 32000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if c.Method() == "POST" && strings.Contains(path, "/api/v1/chat") {
			if err := validateChatBody(c, cfg); err != nil {
				return err
			}
		}

		if c.Method() == "POST" && strings.Contains(path, "/api/v1/documents") {
			if err := validateDocumentBody(c, cfg); err != nil {
				return err
			}
		}

		return c.Next()
	}
}

func validateChatBody(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		TopK int `json:"top_k"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Messages are required",
		})
	}

	if len(req.Messages) > cfg.MaxMessages {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Too many messages",
		})
	}

	hasUser := false
	for _, m := range req.Messages {
		if !allowedRoles[m.Role] {
			cfg.Logger.Warn("Rejected chat message with unknown role",
				zap.String("ip", c.IP()),
				zap.String("role", m.Role),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Message role must be system, user, or assistant",
			})
		}
		if len(m.Content) > cfg.MaxMessageLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Message content exceeds maximum length",
			})
		}
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			hasUser = true
		}
	}

	if !hasUser {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation must contain at least one user message",
		})
	}

	if req.TopK < 0 || req.TopK > 50 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "top_k must be between 0 and 50",
		})
	}

	return nil
}

func validateDocumentBody(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Source  string `json:"source"`
		Content string `json:"content"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	if strings.TrimSpace(req.Source) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Source is required",
		})
	}

	if len(req.Content) > cfg.MaxDocumentSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Document content exceeds maximum size",
		})
	}

	return nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}
