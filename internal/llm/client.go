package llm

import "context"

// Client is the interface the control loop talks to. Implementations
// wrap a specific backend wire protocol.
type Client interface {
	// Chat sends a conversation and optional tool definitions and
	// returns the model's next message.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)
}
