// Package protocol defines the WebSocket frame protocol between clients
// and the relay.
package protocol

// Frame types from client to server
const (
	TypeChat = "chat"
)

// Frame types from server to client
const (
	TypeStreamingStart    = "streaming_start"
	TypeStreamingChunk    = "streaming_chunk"
	TypeStreamingComplete = "streaming_complete"
	TypeError             = "error"
)

// BaseFrame carries the type field used for dispatch.
type BaseFrame struct {
	Type string `json:"type"`
}

// ChatRequest is sent by a client to start one turn.
type ChatRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Model          string `json:"model"`
	Mode           string `json:"mode"`
}

// StreamingStart signals the client to clear stale partial text and
// enter streaming state. Emitted once per turn.
type StreamingStart struct {
	Type string `json:"type"`
}

// StreamingChunk carries one non-empty fragment in generation order.
type StreamingChunk struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// StreamingComplete is the success terminal frame: the full accumulated
// text plus the provider's token usage when reported.
type StreamingComplete struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	TokenUsage *int   `json:"tokenUsage,omitempty"`
}

// ErrorFrame is the failure terminal frame.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage    = "invalid_message"
	ErrorCodeTurnInFlight      = "turn_in_flight"
	ErrorCodeModelNotAllowed   = "model_not_allowed"
	ErrorCodePersistenceFailed = "persistence_failed"
	ErrorCodeBackendFailed     = "backend_failed"
)

// NewStreamingStart builds a streaming_start frame.
func NewStreamingStart() StreamingStart {
	return StreamingStart{Type: TypeStreamingStart}
}

// NewStreamingChunk builds a streaming_chunk frame.
func NewStreamingChunk(content string) StreamingChunk {
	return StreamingChunk{Type: TypeStreamingChunk, Content: content}
}

// NewStreamingComplete builds a streaming_complete frame.
func NewStreamingComplete(content string, tokenUsage *int) StreamingComplete {
	return StreamingComplete{Type: TypeStreamingComplete, Content: content, TokenUsage: tokenUsage}
}

// NewError builds an error frame.
func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}
