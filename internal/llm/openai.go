package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend serves completions through the OpenAI chat API.
type OpenAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend creates an OpenAI backend. apiHost overrides the
// default API base URL when non-empty (e.g. a compatible proxy).
func NewOpenAIBackend(apiKey, apiHost string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if apiHost != "" {
		cfg.BaseURL = apiHost
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg)}
}

var _ Backend = (*OpenAIBackend)(nil)

// Complete runs a non-streaming chat completion.
func (b *OpenAIBackend) Complete(ctx context.Context, history []Message, model string) (*Result, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(history),
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion returned no choice")
	}

	return &Result{
		Text: resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStream runs a streaming chat completion, relaying each delta
// to onFragment in decoding order.
func (b *OpenAIBackend) CompleteStream(ctx context.Context, history []Message, model string, onFragment FragmentFunc) (*Result, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(history),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	var usage *Usage
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream recv: %w", err)
		}

		if resp.Usage != nil {
			usage = &Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}

		// The final usage chunk carries no choices
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		text.WriteString(token)
		if err := onFragment(token); err != nil {
			return nil, err
		}
	}

	return &Result{Text: text.String(), Usage: usage}, nil
}

func toOpenAIMessages(history []Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return messages
}
