package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicBackend serves completions through the Anthropic messages API.
type AnthropicBackend struct {
	client    *anthropic.Client
	maxTokens int
}

// NewAnthropicBackend creates an Anthropic backend. The messages API
// requires an explicit max_tokens on every request.
func NewAnthropicBackend(apiKey string, maxTokens int) *AnthropicBackend {
	return &AnthropicBackend{
		client:    anthropic.NewClient(apiKey),
		maxTokens: maxTokens,
	}
}

var _ Backend = (*AnthropicBackend)(nil)

// Complete runs a non-streaming message generation.
func (b *AnthropicBackend) Complete(ctx context.Context, history []Message, model string) (*Result, error) {
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		Messages:  toAnthropicMessages(history),
		MaxTokens: b.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	return &Result{
		Text: resp.GetFirstContentText(),
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// CompleteStream runs a streaming message generation, relaying each
// content-block delta to onFragment in decoding order.
func (b *AnthropicBackend) CompleteStream(ctx context.Context, history []Message, model string, onFragment FragmentFunc) (*Result, error) {
	var text strings.Builder
	var fragmentErr error

	resp, err := b.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(model),
			Messages:  toAnthropicMessages(history),
			MaxTokens: b.maxTokens,
		},
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if fragmentErr != nil || data.Delta.Text == nil || *data.Delta.Text == "" {
				return
			}
			text.WriteString(*data.Delta.Text)
			fragmentErr = onFragment(*data.Delta.Text)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	if fragmentErr != nil {
		return nil, fragmentErr
	}

	return &Result{
		Text: text.String(),
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// toAnthropicMessages converts history to the alternating user/assistant
// shape the messages API expects; system turns fold into user turns.
func toAnthropicMessages(history []Message) []anthropic.Message {
	messages := make([]anthropic.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			messages = append(messages, anthropic.NewUserTextMessage(m.Content))
		}
	}
	return messages
}
