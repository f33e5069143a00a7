// Package relay orchestrates one full chat turn: persist the user
// message, invoke the completion backend, stream fragments back to the
// originating connection, and persist the assistant reply.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/hub"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/llm"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/metrics"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/policy"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/protocol"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

// Relay handles chat requests for live connections.
type Relay struct {
	store      store.Store
	backends   *llm.Registry
	policy     *policy.Engine
	hub        *hub.Hub
	llmTimeout time.Duration
	logger     zerolog.Logger
}

// New creates a relay. llmTimeout bounds each backend invocation; zero
// means no bound beyond the caller's context.
func New(s store.Store, backends *llm.Registry, p *policy.Engine, h *hub.Hub, llmTimeout time.Duration, logger zerolog.Logger) *Relay {
	return &Relay{
		store:      s,
		backends:   backends,
		policy:     p,
		hub:        h,
		llmTimeout: llmTimeout,
		logger:     logger,
	}
}

// backendContext derives the context for one backend call, applying the
// configured timeout when set.
func (r *Relay) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.llmTimeout > 0 {
		return context.WithTimeout(ctx, r.llmTimeout)
	}
	return context.WithCancel(ctx)
}

// HandleChat runs one turn for an inbound chat request. All failures are
// converted to a single error frame; none terminate the connection.
//
// Frame order within a turn: streaming_start, then chunks in provider
// emission order, then exactly one terminal frame.
func (r *Relay) HandleChat(conn *hub.Connection, req *protocol.ChatRequest) {
	start := time.Now()
	logger := r.logger.With().
		Str("connection_id", conn.ID).
		Str("conversation_id", req.ConversationID).
		Str("model", req.Model).
		Logger()

	if req.ConversationID == "" || req.Content == "" || req.Model == "" {
		r.sendError(conn, protocol.ErrorCodeInvalidMessage, "conversationId, content and model are required")
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return
	}
	mode := domain.Mode(req.Mode)
	if req.Mode == "" {
		mode = domain.ModeChat
	} else if !domain.ValidMode(mode) {
		r.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown mode: "+req.Mode)
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return
	}

	// One in-flight turn per connection
	if !conn.TryBeginTurn() {
		r.sendError(conn, protocol.ErrorCodeTurnInFlight, "a turn is already in flight on this connection")
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return
	}
	defer conn.EndTurn()

	// The backend call is bound to the connection lifetime: a disconnect
	// mid-turn aborts the generation.
	ctx := conn.Context()

	backend, err := r.allow(ctx, req.Model, mode)
	if err != nil {
		logger.Warn().Err(err).Msg("model rejected")
		r.sendError(conn, protocol.ErrorCodeModelNotAllowed, err.Error())
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return
	}

	// The user turn is persisted before the backend is invoked so a
	// concurrent history read always sees it, even if the call fails.
	userAt := time.Now().UTC()
	userMsg := &domain.Message{
		ID:             newMessageID(),
		ConversationID: req.ConversationID,
		Role:           domain.RoleUser,
		Content:        req.Content,
		CreatedAt:      userAt,
	}
	if err := r.store.AppendMessage(ctx, userMsg); err != nil {
		logger.Error().Err(err).Msg("failed to persist user message")
		r.sendError(conn, protocol.ErrorCodePersistenceFailed, err.Error())
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}

	history, err := r.loadHistory(ctx, req.ConversationID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load history")
		r.sendError(conn, protocol.ErrorCodePersistenceFailed, err.Error())
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}

	r.send(conn, protocol.NewStreamingStart())

	// Fragment delivery is best-effort and never blocks backend
	// consumption: if the transport is gone the rest of the turn's
	// fragments are dropped, but accumulation and persistence still
	// complete so the stored transcript stays correct.
	callCtx, cancel := r.backendContext(ctx)
	defer cancel()

	var accumulated strings.Builder
	result, err := backend.CompleteStream(callCtx, history, req.Model, func(fragment string) error {
		accumulated.WriteString(fragment)
		if err := r.hub.SendJSONToConnection(conn, protocol.NewStreamingChunk(fragment)); err != nil {
			metrics.FragmentsDropped.Inc()
			logger.Debug().Err(err).Msg("fragment dropped")
		} else {
			metrics.FragmentsRelayed.Inc()
		}
		return nil
	})
	if err != nil {
		// A disconnect mid-turn cancels the connection context; the turn
		// is abandoned with the user message already durable.
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("turn cancelled, connection closed")
			metrics.TurnsTotal.WithLabelValues("failed").Inc()
			return
		}
		logger.Error().Err(err).Msg("backend invocation failed")
		r.sendError(conn, protocol.ErrorCodeBackendFailed, err.Error())
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}

	assistantMsg := &domain.Message{
		ID:             newMessageID(),
		ConversationID: req.ConversationID,
		Role:           domain.RoleAssistant,
		Content:        accumulated.String(),
		Model:          req.Model,
		TokenUsage:     tokenUsage(result.Usage),
		CreatedAt:      monotonicAfter(userAt),
	}
	// The transcript is persisted regardless of whether the client is
	// still listening; persistence uses its own context.
	if err := r.store.AppendMessage(context.Background(), assistantMsg); err != nil {
		logger.Error().Err(err).Msg("failed to persist assistant message")
		r.sendError(conn, protocol.ErrorCodePersistenceFailed, err.Error())
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}

	r.send(conn, protocol.NewStreamingComplete(assistantMsg.Content, assistantMsg.TokenUsage))
	metrics.TurnsTotal.WithLabelValues("completed").Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Dur("duration", time.Since(start)).
		Int("history_len", len(history)).
		Msg("turn completed")
}

// CompleteTurn runs one non-streaming turn with the same persistence
// semantics as HandleChat, for REST callers without a socket.
func (r *Relay) CompleteTurn(ctx context.Context, conversationID, content, model string, mode domain.Mode) (*domain.Message, error) {
	backend, err := r.allow(ctx, model, mode)
	if err != nil {
		return nil, err
	}

	userAt := time.Now().UTC()
	userMsg := &domain.Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      userAt,
	}
	if err := r.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := r.loadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := r.backendContext(ctx)
	defer cancel()
	result, err := backend.Complete(callCtx, history, model)
	if err != nil {
		return nil, err
	}

	assistantMsg := &domain.Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        result.Text,
		Model:          model,
		TokenUsage:     tokenUsage(result.Usage),
		CreatedAt:      monotonicAfter(userAt),
	}
	if err := r.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}
	return assistantMsg, nil
}

// allow checks the model policy and resolves the backend for one request.
func (r *Relay) allow(ctx context.Context, model string, mode domain.Mode) (llm.Backend, error) {
	decision, err := r.policy.Evaluate(ctx, policy.Input{Model: model, Mode: string(mode)})
	if err != nil {
		return nil, err
	}
	if decision != policy.DecisionAllow {
		return nil, errors.New("model not allowed for this mode: " + model)
	}
	return r.backends.Resolve(model)
}

// loadHistory replays the full ordered transcript projected to
// {role, content} pairs. No truncation or windowing happens here.
func (r *Relay) loadHistory(ctx context.Context, conversationID string) ([]llm.Message, error) {
	messages, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return history, nil
}

func (r *Relay) send(conn *hub.Connection, frame interface{}) {
	if err := r.hub.SendJSONToConnection(conn, frame); err != nil {
		r.logger.Debug().Err(err).Str("connection_id", conn.ID).Msg("frame dropped")
	}
}

func (r *Relay) sendError(conn *hub.Connection, code, message string) {
	r.send(conn, protocol.NewError(code, message))
}

func newMessageID() string {
	return "msg_" + uuid.New().String()[:8]
}

func tokenUsage(u *llm.Usage) *int {
	if u == nil {
		return nil
	}
	total := u.TotalTokens
	return &total
}

// monotonicAfter keeps the assistant message strictly after the user
// message even on coarse clock resolution.
func monotonicAfter(t time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(t) {
		return t.Add(time.Millisecond)
	}
	return now
}
