package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/hub"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/llm"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/policy"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/protocol"
	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/store"
)

// scriptedBackend yields a fixed fragment sequence, or fails.
type scriptedBackend struct {
	fragments []string
	usage     *llm.Usage
	err       error
}

func (b *scriptedBackend) Complete(ctx context.Context, history []llm.Message, model string) (*llm.Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &llm.Result{Text: strings.Join(b.fragments, ""), Usage: b.usage}, nil
}

func (b *scriptedBackend) CompleteStream(ctx context.Context, history []llm.Message, model string, onFragment llm.FragmentFunc) (*llm.Result, error) {
	for _, f := range b.fragments {
		if err := onFragment(f); err != nil {
			return nil, err
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return &llm.Result{Text: strings.Join(b.fragments, ""), Usage: b.usage}, nil
}

type fixture struct {
	relay *Relay
	store *store.SQLiteStore
	hub   *hub.Hub
}

func newFixture(t *testing.T, backend llm.Backend) *fixture {
	return newFixtureWithTimeout(t, backend, time.Minute)
}

func newFixtureWithTimeout(t *testing.T, backend llm.Backend, llmTimeout time.Duration) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	registry := llm.NewRegistry()
	registry.Register("gpt-", "openai", backend)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	h := hub.NewHub(zerolog.Nop())
	go h.Run()

	return &fixture{
		relay: New(s, registry, engine, h, llmTimeout, zerolog.Nop()),
		store: s,
		hub:   h,
	}
}

func (f *fixture) createConversation(t *testing.T, id string) {
	t.Helper()
	c := &domain.Conversation{
		ID:        id,
		Title:     "test",
		Model:     "gpt-5",
		Mode:      domain.ModeChat,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := f.store.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
}

// drainFrames decodes everything queued on the connection's send channel.
func drainFrames(t *testing.T, conn *hub.Connection) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for {
		select {
		case data := <-conn.Send:
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func chatRequest(conversationID, content string) *protocol.ChatRequest {
	return &protocol.ChatRequest{
		Type:           protocol.TypeChat,
		ConversationID: conversationID,
		Content:        content,
		Model:          "gpt-5",
		Mode:           "chat",
	}
}

func TestHandleChatSuccess(t *testing.T) {
	backend := &scriptedBackend{fragments: []string{"Hel", "lo!"}, usage: &llm.Usage{TotalTokens: 5}}
	f := newFixture(t, backend)
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	f.relay.HandleChat(conn, chatRequest("C1", "Hi"))

	frames := drainFrames(t, conn)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %v", len(frames), frames)
	}
	if frames[0]["type"] != "streaming_start" {
		t.Fatalf("expected streaming_start first, got %v", frames[0])
	}
	if frames[1]["type"] != "streaming_chunk" || frames[1]["content"] != "Hel" {
		t.Fatalf("unexpected second frame: %v", frames[1])
	}
	if frames[2]["type"] != "streaming_chunk" || frames[2]["content"] != "lo!" {
		t.Fatalf("unexpected third frame: %v", frames[2])
	}
	if frames[3]["type"] != "streaming_complete" || frames[3]["content"] != "Hello!" || frames[3]["tokenUsage"] != float64(5) {
		t.Fatalf("unexpected terminal frame: %v", frames[3])
	}

	messages, err := f.store.ListMessages(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[0].Content != "Hi" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != domain.RoleAssistant || messages[1].Content != "Hello!" {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}
	if messages[1].Model != "gpt-5" || messages[1].TokenUsage == nil || *messages[1].TokenUsage != 5 {
		t.Fatalf("assistant message missing model/usage: %+v", messages[1])
	}
}

func TestHandleChatBackendFailure(t *testing.T) {
	backend := &scriptedBackend{err: errors.New("rate limited")}
	f := newFixture(t, backend)
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	f.relay.HandleChat(conn, chatRequest("C1", "Hi"))

	frames := drainFrames(t, conn)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
	if frames[0]["type"] != "streaming_start" {
		t.Fatalf("expected streaming_start first, got %v", frames[0])
	}
	if frames[1]["type"] != "error" || frames[1]["code"] != "backend_failed" {
		t.Fatalf("unexpected terminal frame: %v", frames[1])
	}
	if !strings.Contains(frames[1]["message"].(string), "rate limited") {
		t.Fatalf("error message should carry the failure: %v", frames[1])
	}

	// The user turn survives a backend failure; the assistant turn does not
	messages, err := f.store.ListMessages(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != domain.RoleUser || messages[0].Content != "Hi" {
		t.Fatalf("expected only the user message, got %+v", messages)
	}
}

func TestHandleChatUnknownConversation(t *testing.T) {
	backend := &scriptedBackend{fragments: []string{"x"}}
	f := newFixture(t, backend)
	conn := f.hub.NewConnection(nil)

	f.relay.HandleChat(conn, chatRequest("missing", "Hi"))

	frames := drainFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "error" || frames[0]["code"] != "persistence_failed" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestHandleChatTurnInFlight(t *testing.T) {
	backend := &scriptedBackend{fragments: []string{"x"}}
	f := newFixture(t, backend)
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	if !conn.TryBeginTurn() {
		t.Fatalf("TryBeginTurn failed")
	}
	f.relay.HandleChat(conn, chatRequest("C1", "Hi"))

	frames := drainFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "error" || frames[0]["code"] != "turn_in_flight" {
		t.Fatalf("unexpected frames: %v", frames)
	}

	messages, err := f.store.ListMessages(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("rejected turn must not persist, got %+v", messages)
	}
}

func TestHandleChatUnknownModel(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	req := chatRequest("C1", "Hi")
	req.Model = "grok-3"
	f.relay.HandleChat(conn, req)

	frames := drainFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "error" || frames[0]["code"] != "model_not_allowed" {
		t.Fatalf("unexpected frames: %v", frames)
	}

	messages, _ := f.store.ListMessages(context.Background(), "C1")
	if len(messages) != 0 {
		t.Fatalf("rejected turn must not persist, got %+v", messages)
	}
}

func TestHandleChatPolicyBlocked(t *testing.T) {
	f := newFixture(t, &scriptedBackend{fragments: []string{"x"}})
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	req := chatRequest("C1", "Hi")
	req.Model = "gpt-3.5-turbo-instruct"
	f.relay.HandleChat(conn, req)

	frames := drainFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "error" || frames[0]["code"] != "model_not_allowed" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestHandleChatInvalidRequest(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	conn := f.hub.NewConnection(nil)

	f.relay.HandleChat(conn, &protocol.ChatRequest{Type: protocol.TypeChat, ConversationID: "C1"})

	frames := drainFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "error" || frames[0]["code"] != "invalid_message" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestInterleavedTurnsStayIsolated(t *testing.T) {
	backend := &scriptedBackend{fragments: []string{"a", "b"}, usage: &llm.Usage{TotalTokens: 2}}
	f := newFixture(t, backend)
	f.createConversation(t, "C1")
	f.createConversation(t, "C2")

	conn1 := f.hub.NewConnection(nil)
	conn2 := f.hub.NewConnection(nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.relay.HandleChat(conn1, chatRequest("C1", "one"))
	}()
	go func() {
		defer wg.Done()
		f.relay.HandleChat(conn2, chatRequest("C2", "two"))
	}()
	wg.Wait()

	for _, conn := range []*hub.Connection{conn1, conn2} {
		frames := drainFrames(t, conn)
		if len(frames) != 4 || frames[len(frames)-1]["type"] != "streaming_complete" {
			t.Fatalf("unexpected frames on %s: %v", conn.ID, frames)
		}
	}

	c1, _ := f.store.ListMessages(context.Background(), "C1")
	c2, _ := f.store.ListMessages(context.Background(), "C2")
	if len(c1) != 2 || c1[0].Content != "one" {
		t.Fatalf("unexpected C1 transcript: %+v", c1)
	}
	if len(c2) != 2 || c2[0].Content != "two" {
		t.Fatalf("unexpected C2 transcript: %+v", c2)
	}
}

func TestHistoryReplayedToBackend(t *testing.T) {
	var seen []llm.Message
	backend := &recordingBackend{fragments: []string{"ok"}, record: func(history []llm.Message) { seen = history }}
	f := newFixture(t, backend)
	f.createConversation(t, "C1")

	// Seed an earlier turn
	earlier := time.Now().UTC().Add(-time.Minute)
	for i, m := range []*domain.Message{
		{ID: "m1", ConversationID: "C1", Role: domain.RoleUser, Content: "first", CreatedAt: earlier},
		{ID: "m2", ConversationID: "C1", Role: domain.RoleAssistant, Content: "reply", Model: "gpt-5", CreatedAt: earlier.Add(time.Second)},
	} {
		if err := f.store.AppendMessage(context.Background(), m); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	conn := f.hub.NewConnection(nil)
	f.relay.HandleChat(conn, chatRequest("C1", "second"))

	want := []llm.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d history messages, got %d: %+v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("history[%d] = %+v, want %+v", i, seen[i], want[i])
		}
	}
}

// blockingBackend signals when streaming begins, then holds the call
// open until its context ends.
type blockingBackend struct {
	started chan struct{}
}

func (b *blockingBackend) Complete(ctx context.Context, history []llm.Message, model string) (*llm.Result, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingBackend) CompleteStream(ctx context.Context, history []llm.Message, model string, onFragment llm.FragmentFunc) (*llm.Result, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDisconnectMidTurnAbandonsGeneration(t *testing.T) {
	backend := &blockingBackend{started: make(chan struct{})}
	f := newFixture(t, backend)
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	done := make(chan struct{})
	go func() {
		f.relay.HandleChat(conn, chatRequest("C1", "Hi"))
		close(done)
	}()

	<-backend.started
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("turn did not abort after the connection closed")
	}

	// The abandoned turn gets no terminal frame; only streaming_start
	// made it out before the disconnect.
	frames := drainFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "streaming_start" {
		t.Fatalf("unexpected frames after disconnect: %v", frames)
	}

	messages, err := f.store.ListMessages(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != domain.RoleUser || messages[0].Content != "Hi" {
		t.Fatalf("expected only the user message to survive, got %+v", messages)
	}
}

func TestBackendTimeoutFailsTurn(t *testing.T) {
	backend := &blockingBackend{started: make(chan struct{})}
	f := newFixtureWithTimeout(t, backend, 50*time.Millisecond)
	f.createConversation(t, "C1")
	conn := f.hub.NewConnection(nil)

	done := make(chan struct{})
	go func() {
		f.relay.HandleChat(conn, chatRequest("C1", "Hi"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("turn did not time out")
	}

	frames := drainFrames(t, conn)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
	if frames[0]["type"] != "streaming_start" {
		t.Fatalf("expected streaming_start first, got %v", frames[0])
	}
	if frames[1]["type"] != "error" || frames[1]["code"] != "backend_failed" {
		t.Fatalf("expected backend_failed terminal frame, got %v", frames[1])
	}

	messages, err := f.store.ListMessages(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user message to survive, got %+v", messages)
	}
}

// recordingBackend captures the history it is invoked with.
type recordingBackend struct {
	fragments []string
	record    func([]llm.Message)
}

func (b *recordingBackend) Complete(ctx context.Context, history []llm.Message, model string) (*llm.Result, error) {
	b.record(history)
	return &llm.Result{Text: strings.Join(b.fragments, "")}, nil
}

func (b *recordingBackend) CompleteStream(ctx context.Context, history []llm.Message, model string, onFragment llm.FragmentFunc) (*llm.Result, error) {
	b.record(history)
	for _, f := range b.fragments {
		if err := onFragment(f); err != nil {
			return nil, err
		}
	}
	return &llm.Result{Text: strings.Join(b.fragments, "")}, nil
}
