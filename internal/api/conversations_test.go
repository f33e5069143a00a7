package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
)

func TestCreateConversation(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	body := `{"title":"My chat","model":"mock-1","mode":"chat"}`
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.CreateConversation(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var got domain.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "My chat", got.Title)
	require.Equal(t, "mock-1", got.Model)
	require.True(t, strings.HasPrefix(got.ID, "conv_"))
}

func TestCreateConversationRequiresModel(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.CreateConversation(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	require.NoError(t, h.GetConversation(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversationCascades(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)
	seedConversation(t, h, "c1")

	msg := &domain.Message{
		ID:             "m1",
		ConversationID: "c1",
		Role:           domain.RoleUser,
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, h.store.AppendMessage(context.Background(), msg))

	req := httptest.NewRequest(http.MethodDelete, "/api/conversations/c1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("c1")

	require.NoError(t, h.DeleteConversation(c))
	require.Equal(t, http.StatusNoContent, rec.Code)

	messages, err := h.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestListConversations(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)
	seedConversation(t, h, "c1")
	seedConversation(t, h, "c2")

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.ListConversations(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 2)
}
