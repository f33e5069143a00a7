package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/config"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/hub"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/llm"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/policy"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/relay"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	registry := llm.NewRegistry()
	registry.Register("mock-", "mock", llm.NewMockBackend())

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	h := hub.NewHub(zerolog.Nop())
	go h.Run()

	cfg := &config.Config{DataDir: t.TempDir()}
	r := relay.New(s, registry, engine, h, time.Minute, zerolog.Nop())

	return NewHandler(s, r, registry, h, cfg, zerolog.Nop())
}

func seedConversation(t *testing.T, h *Handler, id string) {
	t.Helper()
	c := &domain.Conversation{
		ID:        id,
		Title:     "seeded",
		Model:     "mock-1",
		Mode:      domain.ModeChat,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
}
