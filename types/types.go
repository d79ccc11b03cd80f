package types

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation thread. The history is append-only:
// new turns extend the sequence, they never rewrite it.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"` // Tool name for tool role messages.
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	JSONSchema  map[string]any `json:"jsonSchema,omitempty"`
}

type Request struct {
	Model           string           `json:"model,omitempty"`
	SystemPrompt    string           `json:"systemPrompt,omitempty"`
	Messages        []Message        `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
	ResponseSchema  map[string]any   `json:"responseSchema,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Message Message `json:"message"`
	Usage   *Usage  `json:"usage,omitempty"`
}

// FirstToolCall returns the first tool call of the message, if any. Completions
// are configured to emit at most one structured call; when a provider emits
// more regardless, only the first is honored.
func (m Message) FirstToolCall() (ToolCall, bool) {
	if len(m.ToolCalls) == 0 {
		return ToolCall{}, false
	}
	return m.ToolCalls[0], true
}
