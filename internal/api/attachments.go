package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

// UploadAttachment stores an uploaded file under the data directory and
// records its metadata against the conversation.
// POST /api/conversations/:id/attachments (multipart field "file")
func (h *Handler) UploadAttachment(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := h.store.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		}
		h.logger.Error().Err(err).Msg("failed to get conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to get conversation")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "file field is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "failed to open upload")
	}
	defer src.Close()

	attachment := &domain.Attachment{
		ID:             "att_" + uuid.New().String()[:8],
		ConversationID: id,
		Filename:       filepath.Base(fileHeader.Filename),
		Size:           fileHeader.Size,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		CreatedAt:      time.Now().UTC(),
	}

	dir := filepath.Join(h.cfg.DataDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.logger.Error().Err(err).Msg("failed to create attachment dir")
		return errorJSON(c, http.StatusInternalServerError, "failed to store attachment")
	}
	dst, err := os.Create(filepath.Join(dir, attachment.ID+"_"+attachment.Filename))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create attachment file")
		return errorJSON(c, http.StatusInternalServerError, "failed to store attachment")
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		h.logger.Error().Err(err).Msg("failed to write attachment file")
		return errorJSON(c, http.StatusInternalServerError, "failed to store attachment")
	}

	if err := h.store.AddAttachment(ctx, attachment); err != nil {
		h.logger.Error().Err(err).Msg("failed to record attachment")
		return errorJSON(c, http.StatusInternalServerError, "failed to store attachment")
	}

	return c.JSON(http.StatusCreated, attachment)
}

// ListAttachments returns a conversation's attachment records.
// GET /api/conversations/:id/attachments
func (h *Handler) ListAttachments(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := h.store.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		}
		h.logger.Error().Err(err).Msg("failed to get conversation")
		return errorJSON(c, http.StatusInternalServerError, "failed to get conversation")
	}

	attachments, err := h.store.ListAttachments(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list attachments")
		return errorJSON(c, http.StatusInternalServerError, "failed to list attachments")
	}
	if attachments == nil {
		attachments = []domain.Attachment{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"attachments": attachments})
}
