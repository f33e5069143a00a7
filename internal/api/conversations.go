package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

// CreateConversationRequest is the body for POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
	Mode  string `json:"mode"`
}

// CreateConversation creates a new conversation.
// POST /api/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Model == "" {
		return errorJSON(c, http.StatusBadRequest, "model is required")
	}
	mode := domain.Mode(req.Mode)
	if req.Mode == "" {
		mode = domain.ModeChat
	} else if !domain.ValidMode(mode) {
		return errorJSON(c, http.StatusBadRequest, "unknown mode: "+req.Mode)
	}
	title := req.Title
	if title == "" {
		title = "New conversation"
	}

	now := time.Now().UTC()
	conversation := &domain.Conversation{
		ID:        "conv_" + uuid.New().String()[:8],
		Title:     title,
		Model:     req.Model,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateConversation(ctx, conversation); err != nil {
		h.logger.Error().Err(err).Msg("failed to create conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to create conversation")
	}

	return c.JSON(http.StatusCreated, conversation)
}

// ListConversations returns all conversations, most recently updated first.
// GET /api/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()

	conversations, err := h.store.ListConversations(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list conversations")
		return errorJSON(c, http.StatusInternalServerError, "failed to list conversations")
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// GetConversation returns a single conversation.
// GET /api/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()

	conversation, err := h.store.GetConversation(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to get conversation")
	}

	return c.JSON(http.StatusOK, conversation)
}

// DeleteConversation deletes a conversation; messages and attachments
// go with it.
// DELETE /api/conversations/:id
func (h *Handler) DeleteConversation(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := h.store.DeleteConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		}
		h.logger.Error().Err(err).Msg("failed to delete conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to delete conversation")
	}

	// Remove uploaded file bytes; the rows are already gone
	if h.cfg != nil && h.cfg.DataDir != "" {
		if err := os.RemoveAll(filepath.Join(h.cfg.DataDir, id)); err != nil {
			h.logger.Warn().Err(err).Str("conversation_id", id).Msg("failed to remove attachment files")
		}
	}

	return c.NoContent(http.StatusNoContent)
}
