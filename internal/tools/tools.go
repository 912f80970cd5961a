// Package tools defines the fixed tool surface exposed to the LLM and
// routes tool calls to their implementations. Every tool returns a
// Result map with an "ok" key; failures are reported in-band so the
// model always receives something it can reason about.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yishaik/wotbot/internal/events"
	"github.com/yishaik/wotbot/internal/mcp"
	"github.com/yishaik/wotbot/internal/sandbox"
)

// Result is the outcome of a tool call. Every Result carries an "ok"
// boolean; failed calls carry an "error" string.
type Result map[string]any

func errResult(format string, args ...any) Result {
	return Result{"ok": false, "error": fmt.Sprintf(format, args...)}
}

// Tool is one callable tool: its function schema plus its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) Result
}

// Registry holds the available tools in a fixed registration order so
// the schema list presented to the LLM is stable across calls.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
	bus    *events.Bus

	sandbox   *sandbox.Runner
	http      *HTTPTool
	mcp       *mcp.Manager
	files     *FileTools
	restarter *Restarter
}

// Deps are the collaborators the builtin tools delegate to. Nil
// entries disable the corresponding tool gracefully (the tool reports
// an in-band error instead of panicking).
type Deps struct {
	Sandbox   *sandbox.Runner
	HTTP      *HTTPTool
	MCP       *mcp.Manager
	Files     *FileTools
	Restarter *Restarter
	Logger    *slog.Logger
	Bus       *events.Bus
}

// NewRegistry creates the registry with all builtin tools registered.
func NewRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		tools:     make(map[string]*Tool),
		logger:    logger,
		bus:       deps.Bus,
		sandbox:   deps.Sandbox,
		http:      deps.HTTP,
		mcp:       deps.MCP,
		files:     deps.Files,
		restarter: deps.Restarter,
	}
	r.registerBuiltins()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Schemas returns the function schemas for all tools, in registration
// order, in the wire shape the chat-completions API expects.
func (r *Registry) Schemas() []map[string]any {
	out := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Call routes a tool call by name. argsJSON is the raw arguments
// string from the model. Call never returns an error: malformed JSON,
// unknown tools, and handler panics all become failed Results, and no
// handler runs when the arguments cannot be parsed.
func (r *Registry) Call(ctx context.Context, name, argsJSON string) (res Result) {
	start := time.Now()
	r.bus.Publish(events.Event{
		Source: events.SourceTool,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"tool": name},
	})
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			res = errResult("%v", rec)
		}
		ok, _ := res["ok"].(bool)
		r.bus.Publish(events.Event{
			Source: events.SourceTool,
			Kind:   events.KindToolDone,
			Data: map[string]any{
				"tool":        name,
				"ok":          ok,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		})
		r.logger.Debug("tool finished", "tool", name, "ok", ok, "elapsed", time.Since(start))
	}()

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return errResult("Invalid JSON args: %v", err)
		}
	}

	tool := r.tools[name]
	if tool == nil {
		return errResult("Unknown tool: %s", name)
	}
	return tool.Handler(ctx, args)
}

// stringArg extracts a string argument, tolerating absence.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg extracts an integer argument; JSON numbers decode as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// stringMapArg extracts a map[string]string argument, coercing values.
func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// mapArg extracts a map argument as-is.
func mapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

// toResult converts any JSON-marshalable value into a Result map.
func toResult(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return errResult("encode tool result: %v", err)
	}
	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		return errResult("decode tool result: %v", err)
	}
	return out
}
