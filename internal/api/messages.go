package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/llm"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

// ListMessages returns a conversation's messages in ascending
// creation-time order.
// GET /api/conversations/:id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := h.store.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		}
		h.logger.Error().Err(err).Msg("failed to get conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to get conversation")
	}

	messages, err := h.store.ListMessages(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list messages")
		return errorJSON(c, http.StatusInternalServerError, "failed to list messages")
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

// DeleteMessage deletes a single message.
// DELETE /api/messages/:id
func (h *Handler) DeleteMessage(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.store.DeleteMessage(ctx, c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "message not found")
		}
		h.logger.Error().Err(err).Msg("failed to delete message")
		return errorJSON(c, http.StatusInternalServerError, "failed to delete message")
	}

	return c.NoContent(http.StatusNoContent)
}

// CompleteTurnRequest is the body for POST /api/conversations/:id/complete.
type CompleteTurnRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Mode    string `json:"mode"`
}

// CompleteTurn runs one non-streaming turn: the user message is
// persisted, the full history replayed to the backend, and the
// assistant reply persisted and returned.
// POST /api/conversations/:id/complete
func (h *Handler) CompleteTurn(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req CompleteTurnRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return errorJSON(c, http.StatusBadRequest, "content is required")
	}

	conversation, err := h.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to get conversation")
	}

	// The conversation's own model/mode apply unless overridden
	model := req.Model
	if model == "" {
		model = conversation.Model
	}
	mode := domain.Mode(req.Mode)
	if req.Mode == "" {
		mode = conversation.Mode
	} else if !domain.ValidMode(mode) {
		return errorJSON(c, http.StatusBadRequest, "unknown mode: "+req.Mode)
	}

	message, err := h.relay.CompleteTurn(ctx, id, req.Content, model, mode)
	if err != nil {
		if errors.Is(err, llm.ErrUnknownProvider) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		h.logger.Error().Err(err).Str("conversation_id", id).Msg("turn failed")
		return errorJSON(c, http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusOK, message)
}
