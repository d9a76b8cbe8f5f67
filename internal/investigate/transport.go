// Package investigate implements a bounded tool-using loop that drives a
// chat-style transport over a finalized Report, backed by the debugger
// facade (exec) and the runtime reader (inspect) as tool implementations.
package investigate

import "context"

// Role identifies the speaker of a Message in the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one typed block of a Message, mirroring the tagged-union
// content blocks a tool-use-capable chat transport exchanges.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	Text string `json:"text,omitempty"`

	// tool_use fields.
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one turn of the conversation submitted to or returned from the
// transport.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolSpec describes one tool's name, description and JSON-schema input
// shape, as submitted in a Request's Tools field.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Request is the transport's input contract.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolSpec
	ToolChoice   string // always "auto" per the fixed contract
}

// Response is the transport's output contract: an ordered list of typed
// content blocks produced by one sampling call.
type Response struct {
	Content []ContentBlock
	Model   string
}

// Transport is the chat-style collaborator the orchestrator drives. It
// never assumes a specific provider; it only depends on this contract.
type Transport interface {
	// Sample submits req and returns the assistant's response.
	Sample(ctx context.Context, req Request) (*Response, error)
	// IsSamplingSupported and IsToolUseSupported gate activation before the
	// loop starts; when either is false the orchestrator returns immediately
	// with a low-confidence result.
	IsSamplingSupported() bool
	IsToolUseSupported() bool
}
