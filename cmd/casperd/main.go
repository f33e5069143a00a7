package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/api"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/config"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/hub"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/llm"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/logging"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/policy"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/relay"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())

	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("env", cfg.Env).
		Msg("starting casperd")

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	backends := buildRegistry(cfg, logger)

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to compile model policy")
	}

	connectionHub := hub.NewHub(logger)
	go connectionHub.Run()

	turnRelay := relay.New(st, backends, policyEngine, connectionHub, cfg.LLMTimeout, logger)
	wsServer := ws.NewServer(cfg, connectionHub, turnRelay, logger)
	apiHandler := api.NewHandler(st, turnRelay, backends, connectionHub, cfg, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	apiHandler.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	logger.Info().Int("port", cfg.HTTPPort).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down server gracefully")
	}

	logger.Info().Msg("casperd stopped")
}

// buildRegistry wires model prefixes to provider backends. With
// CASPER_MODE=MOCK every prefix resolves to the deterministic mock
// backend, which keeps local development free of API keys.
func buildRegistry(cfg *config.Config, logger zerolog.Logger) *llm.Registry {
	backends := llm.NewRegistry()

	if strings.EqualFold(os.Getenv("CASPER_MODE"), "MOCK") {
		mock := llm.NewMockBackend()
		backends.Register("gpt-", "mock", mock)
		backends.Register("claude-", "mock", mock)
		backends.Register("mock-", "mock", mock)
		logger.Warn().Msg("running in mock mode, all models served by the mock backend")
		return backends
	}

	if cfg.OpenAIAPIKey != "" {
		openai := llm.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIAPIHost)
		backends.Register("gpt-", "openai", openai)
		backends.Register("o1", "openai", openai)
		backends.Register("o3", "openai", openai)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, OpenAI models unavailable")
	}

	if cfg.AnthropicAPIKey != "" {
		anthropic := llm.NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.MaxTokens)
		backends.Register("claude-", "anthropic", anthropic)
	} else {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, Anthropic models unavailable")
	}

	return backends
}
