package llm

import (
	"context"
	"fmt"
)

// MockBackend is a deterministic Backend for tests and offline runs.
type MockBackend struct{}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

var _ Backend = (*MockBackend)(nil)

// Complete returns a canned response derived from the last user message.
func (m *MockBackend) Complete(ctx context.Context, history []Message, model string) (*Result, error) {
	text := m.respond(history)
	return &Result{Text: text, Usage: m.usage(history, text)}, nil
}

// CompleteStream delivers the canned response in fixed-size fragments.
func (m *MockBackend) CompleteStream(ctx context.Context, history []Message, model string, onFragment FragmentFunc) (*Result, error) {
	text := m.respond(history)
	for _, chunk := range splitIntoChunks(text, 10) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := onFragment(chunk); err != nil {
			return nil, err
		}
	}
	return &Result{Text: text, Usage: m.usage(history, text)}, nil
}

func (m *MockBackend) respond(history []Message) string {
	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			lastUser = history[i].Content
			break
		}
	}
	if lastUser == "" {
		return "[MOCK] This is a mock completion."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q.", truncate(lastUser, 100))
}

func (m *MockBackend) usage(history []Message, text string) *Usage {
	prompt := 0
	for _, msg := range history {
		prompt += len(msg.Content) / 4
	}
	completion := len(text) / 4
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
