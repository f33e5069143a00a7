// Package llm provides the completion backend abstraction consumed by
// the relay, with one implementation per provider.
package llm

import "context"

// Message is one turn of chat history projected for a provider call.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports the token count of a completed generation, when the
// provider supplies one.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of a completion: the full text plus optional usage.
type Result struct {
	Text  string
	Usage *Usage
}

// FragmentFunc is called once per generated fragment, in the provider's
// decoding order. Returning an error aborts the generation.
type FragmentFunc func(fragment string) error

// Backend generates completions for an ordered chat history.
type Backend interface {
	// Complete runs a non-streaming completion.
	Complete(ctx context.Context, history []Message, model string) (*Result, error)

	// CompleteStream runs a streaming completion, invoking onFragment
	// in order for each produced piece of text, and returns the full
	// concatenated text once the provider signals completion. Provider
	// failures surface as errors, never as a silent partial result.
	CompleteStream(ctx context.Context, history []Message, model string, onFragment FragmentFunc) (*Result, error)
}
