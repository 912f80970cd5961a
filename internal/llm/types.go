// Package llm provides clients for the three OpenAI-compatible
// protocols the gateway can drive: chat completions, the responses
// API, and the assistants API. Provider wire formats are converted at
// the client boundary; the rest of the codebase only sees the
// canonical Message and Output types.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is a canonical chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool result messages
}

// ToolCall is a canonical tool invocation requested by the model.
// Arguments is the raw JSON string exactly as the model produced it;
// parsing is deferred to the tool router so malformed arguments fail
// in-band.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Output is the normalized result of one model turn: assistant text
// and/or tool calls, whatever the backend protocol looked like on the
// wire. Normalization is total — unexpected shapes produce an empty
// Output rather than an error.
type Output struct {
	Content   string
	ToolCalls []ToolCall

	// Empty reports that the response carried no assistant item at
	// all (as opposed to an assistant item with empty text).
	Empty bool

	Model        string
	InputTokens  int
	OutputTokens int
}

// Client is a model backend the conversation engine can loop against:
// it takes the canonical transcript plus tool schemas and returns one
// normalized Output. Chat-completions and responses clients implement
// this; the assistants backend runs its own tool loop and is driven
// separately.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*Output, error)
}

// ToolExecutor runs one tool call and returns its JSON-encoded result.
// Used by the assistants backend, where tool execution happens inside
// the run state machine rather than in the engine loop.
type ToolExecutor func(ctx context.Context, name, argsJSON string) string
