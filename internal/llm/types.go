// Package llm defines the chat-completion client used by the agent and
// the wire types shared between the control loop and model backends.
package llm

// Message is a single entry in a chat conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", or "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is what a backend returns for a single completion.
type ChatResponse struct {
	Model        string
	Message      Message
	InputTokens  int
	OutputTokens int
}
