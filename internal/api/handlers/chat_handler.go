package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/chat"
	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/pkg/logger"
)

type ChatHandler struct {
	engine *chat.Engine
}

func NewChatHandler(engine *chat.Engine) *ChatHandler {
	return &ChatHandler{
		engine: engine,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	SessionID string        `json:"session_id"`
	TopK      int           `json:"top_k"`
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req chatRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Messages are required",
		})
	}

	response, err := h.engine.Chat(c.Context(), chat.Request{
		Messages:  toLLMMessages(req.Messages),
		SessionID: req.SessionID,
		TopK:      req.TopK,
	})
	if err != nil {
		if errors.Is(err, chat.ErrNoUserMessage) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Conversation must contain at least one user message",
			})
		}
		logger.Error("Failed to process chat", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process chat",
		})
	}

	return c.JSON(fiber.Map{
		"answer":   response.Answer,
		"sources":  response.Sources,
		"metadata": response.Metadata,
	})
}

func (h *ChatHandler) GetChatHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	limit := c.QueryInt("limit", 50)

	records, err := h.engine.History(sessionID, limit)
	if err != nil {
		logger.Error("Failed to load chat history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load chat history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"turn_number":   r.TurnNumber,
			"question":      r.Question,
			"answer":        r.Answer,
			"strategy":      r.Strategy,
			"context_stage": r.ContextStage,
			"sources_used":  r.SourcesUsed,
			"confidence":    r.Confidence,
			"latency_ms":    r.LatencyMS,
			"created_at":    r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"history":    history,
	})
}

func (h *ChatHandler) ClearSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session id is required",
		})
	}

	h.engine.ClearSession(sessionID)

	return c.JSON(fiber.Map{
		"message":    "Session cleared",
		"session_id": sessionID,
	})
}

func toLLMMessages(messages []chatMessage) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
