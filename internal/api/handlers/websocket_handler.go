package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/chat"
	"github.com/convorag/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine *chat.Engine
}

func NewWebSocketHandler(engine *chat.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

// HandleConnection serves one client connection. Each incoming chat frame
// carries the full conversation; the server answers with status frames
// followed by a complete frame holding the answer and its metadata.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string        `json:"type"`
			Messages  []chatMessage `json:"messages"`
			SessionID string        `json:"session_id"`
			TopK      int           `json:"top_k"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "chat" {
			continue
		}

		if len(msg.Messages) == 0 {
			h.sendError(c, "Messages are required")
			continue
		}

		h.sendStatus(c, "Retrieving context...")

		response, err := h.engine.Chat(context.Background(), chat.Request{
			Messages:  toLLMMessages(msg.Messages),
			SessionID: msg.SessionID,
			TopK:      msg.TopK,
		})
		if err != nil {
			logger.Error("Failed to process chat over WebSocket", zap.Error(err))
			h.sendError(c, "Failed to process chat")
			continue
		}

		err = c.WriteJSON(map[string]interface{}{
			"type":     "complete",
			"answer":   response.Answer,
			"sources":  response.Sources,
			"metadata": response.Metadata,
		})
		if err != nil {
			logger.Error("Failed to write WebSocket response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, content string) {
	c.WriteJSON(map[string]interface{}{
		"type":    "status",
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
