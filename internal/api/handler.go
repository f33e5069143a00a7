// Package api provides the REST endpoints around the relay: conversation
// and message CRUD, attachments, model listing, and health.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/config"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/hub"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/llm"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/relay"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

// Handler holds the REST handlers.
type Handler struct {
	store    store.Store
	relay    *relay.Relay
	backends *llm.Registry
	hub      *hub.Hub
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewHandler creates a new REST handler.
func NewHandler(s store.Store, r *relay.Relay, backends *llm.Registry, h *hub.Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    s,
		relay:    r,
		backends: backends,
		hub:      h,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterRoutes registers all REST routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/conversations", h.CreateConversation)
	e.GET("/api/conversations", h.ListConversations)
	e.GET("/api/conversations/:id", h.GetConversation)
	e.DELETE("/api/conversations/:id", h.DeleteConversation)

	e.GET("/api/conversations/:id/messages", h.ListMessages)
	e.POST("/api/conversations/:id/complete", h.CompleteTurn)
	e.DELETE("/api/messages/:id", h.DeleteMessage)

	e.POST("/api/conversations/:id/attachments", h.UploadAttachment)
	e.GET("/api/conversations/:id/attachments", h.ListAttachments)

	e.GET("/api/models", h.ListModels)
	e.GET("/health", h.Health)
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

// Health reports server liveness, store reachability and connection count.
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()

	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]interface{}{
		"status":      status,
		"connections": h.hub.ConnectionCount(),
	})
}

// ListModels returns the model routes the registry can serve.
// GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	type modelRoute struct {
		Prefix   string `json:"prefix"`
		Provider string `json:"provider"`
	}
	routes := []modelRoute{}
	for prefix, provider := range h.backends.Routes() {
		routes = append(routes, modelRoute{Prefix: prefix, Provider: provider})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"models": routes})
}
