package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yishaik/wotbot/internal/httpkit"
)

// ResponsesClient drives the responses protocol (POST {base}/responses).
// The request side sends input items with part-typed content (see
// toResponsesWire); the response side is an output-item list that
// normalizeResponses folds back into a canonical Output.
type ResponsesClient struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// NewResponsesClient creates a responses-API client.
func NewResponsesClient(opts Options) *ResponsesClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &ResponsesClient{
		opts:   opts,
		logger: logger.With("backend", "responses"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithLogger(logger),
		),
	}
}

// Responses wire types. Output items arrive in loosely-specified
// shapes across server implementations, so the permissive fields here
// use json.RawMessage and any, and normalization absorbs the variance.

type responsesRequest struct {
	Model       string             `json:"model"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_output_tokens,omitempty"`
	Input       []responsesMessage `json:"input"`
	Tools       []map[string]any   `json:"tools,omitempty"`
}

// responsesMessage is one outbound input item. Unlike chat completions
// the responses API takes content as a list of typed parts; tool result
// messages keep their tool_call_id as a sibling field.
type responsesMessage struct {
	Role       string         `json:"role"`
	Content    []contentPart  `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type responsesResponse struct {
	Model      string          `json:"model"`
	Output     []outputItem    `json:"output"`
	OutputText string          `json:"output_text"`
	Usage      *responsesUsage `json:"usage"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type outputItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	ToolCalls []rawToolCall   `json:"tool_calls"`
}

type rawToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// contentPart is one element of an item's content list.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Chat sends the transcript and normalizes the output-item list.
func (c *ResponsesClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*Output, error) {
	req := responsesRequest{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Input:       toResponsesWire(messages),
		Tools:       tools,
	}

	var resp responsesResponse
	if err := postJSON(ctx, c.httpClient, c.opts.BaseURL+"/responses", c.opts.APIKey, nil, req, &resp); err != nil {
		return nil, err
	}

	out := normalizeResponses(&resp)
	c.logger.Debug("responses output",
		"model", out.Model,
		"tool_calls", len(out.ToolCalls),
		"empty", out.Empty,
	)
	c.logger.Log(ctx, LevelTrace, "responses output content", "content", out.Content)
	return out, nil
}

// toResponsesWire converts canonical messages to input items: every
// message's content becomes a single text part, assistant tool calls
// keep the function wire shape, and tool results carry tool_call_id.
func toResponsesWire(messages []Message) []responsesMessage {
	out := make([]responsesMessage, 0, len(messages))
	for _, m := range messages {
		wm := responsesMessage{
			Role:       m.Role,
			Content:    []contentPart{{Type: "text", Text: m.Content}},
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, chatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: chatFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

// normalizeResponses folds an output-item list into canonical Output:
// the last assistant item wins, its content parts concatenate into
// text, and its tool calls are lifted out. When no assistant item
// exists the top-level output_text is the fallback; a response with
// neither is Empty. Normalization never fails — unrecognized shapes
// just contribute nothing.
func normalizeResponses(resp *responsesResponse) *Output {
	out := &Output{Model: resp.Model}
	if resp.Usage != nil {
		out.InputTokens = resp.Usage.InputTokens
		out.OutputTokens = resp.Usage.OutputTokens
	}

	for i := len(resp.Output) - 1; i >= 0; i-- {
		item := resp.Output[i]
		if item.Role != "assistant" {
			continue
		}
		out.Content = contentToText(item.Content)
		for _, tc := range item.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: argumentsToString(tc.Function.Arguments),
			})
		}
		if out.Content == "" && len(out.ToolCalls) == 0 {
			out.Content = resp.OutputText
		}
		return out
	}

	if resp.OutputText != "" {
		out.Content = resp.OutputText
		return out
	}
	out.Empty = true
	return out
}

// contentToText accepts a bare string, a list of strings, or a list of
// typed parts, and concatenates the text it finds with newlines.
func contentToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}

	var parts []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			if str != "" {
				parts = append(parts, str)
			}
			continue
		}
		var part contentPart
		if err := json.Unmarshal(item, &part); err != nil {
			continue
		}
		if part.Type == "tool_call" {
			continue
		}
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// argumentsToString keeps tool arguments as the raw JSON string the
// router expects. String-encoded arguments unwrap; object arguments
// pass through as their JSON text.
func argumentsToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
