// Package domain defines the core domain models for the chat relay.
package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode is the interaction mode of a conversation.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeCompletion Mode = "completion"
	ModeAnalysis   Mode = "analysis"
	ModeGenerate   Mode = "generate"
)

// ValidMode reports whether m is one of the known interaction modes.
func ValidMode(m Mode) bool {
	switch m {
	case ModeChat, ModeCompletion, ModeAnalysis, ModeGenerate:
		return true
	}
	return false
}

// Conversation is a titled, model-bound message thread.
// UpdatedAt is bumped whenever a message is appended.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn half inside a conversation. Messages are immutable
// once created; Model and TokenUsage are set only on assistant messages.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	TokenUsage     *int      `json:"token_usage,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Attachment is the metadata record of a file uploaded to a conversation.
// The bytes live on disk under the configured data directory; the row is
// removed by the conversation delete cascade.
type Attachment struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type"`
	CreatedAt      time.Time `json:"created_at"`
}
