// Package engine runs the bounded tool-calling conversation loop
// that turns an inbound user message into a list of outbound reply
// segments.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yishaik/wotbot/internal/chunk"
	"github.com/yishaik/wotbot/internal/config"
	"github.com/yishaik/wotbot/internal/events"
	"github.com/yishaik/wotbot/internal/llm"
	"github.com/yishaik/wotbot/internal/session"
	"github.com/yishaik/wotbot/internal/tools"
	"github.com/yishaik/wotbot/internal/usage"
)

const (
	// defaultSystemPrompt steers the model toward short, phone-sized
	// replies. Overridable via engine.system_prompt in the config.
	defaultSystemPrompt = "You are WotBot, a WhatsApp assistant. Keep replies concise, mobile-friendly. " +
		"Use tools when helpful. Prefer bullets and short paragraphs. If output is long, suggest summarizing."

	// developerSuffix is appended to the system prompt when the
	// session has developer mode enabled.
	developerSuffix = " Developer mode is ON: you may provide more technical details."

	// fallbackReply is the only user-visible terminal failure: the
	// model kept calling tools until the iteration budget ran out, or
	// the backend stopped answering mid-loop.
	fallbackReply = "I executed tools but didn't get a final message. Please try again."

	// toolResultCap bounds the JSON tool result fed back to the model.
	toolResultCap = 4000
)

// Options carries the engine's collaborators. Client serves the chat
// and responses backends; Assistants serves the assistant/run backend.
// Usage and Bus may be nil.
type Options struct {
	Config     *config.Config
	Sessions   *session.Store
	Tools      *tools.Registry
	Client     llm.Client
	Assistants *llm.AssistantsClient
	Usage      *usage.Store
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Engine converts one inbound message into outbound reply segments.
// It is safe for concurrent use; per-user state lives in the session
// store.
type Engine struct {
	cfg      *config.Config
	sessions *session.Store
	tools    *tools.Registry
	client   llm.Client
	assist   *llm.AssistantsClient
	usage    *usage.Store
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates an engine from its collaborators.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      opts.Config,
		sessions: opts.Sessions,
		tools:    opts.Tools,
		client:   opts.Client,
		assist:   opts.Assistants,
		usage:    opts.Usage,
		bus:      opts.Bus,
		logger:   logger,
	}
}

// Converse handles one user turn and returns the reply segments to
// send, each at most the configured chunk size. It never returns an
// error: backend failures degrade to the fixed fallback reply.
func (e *Engine) Converse(ctx context.Context, userID, text string) []string {
	requestID := uuid.NewString()
	logger := e.logger.With("request_id", requestID, "user", userID)
	start := time.Now()

	e.publish(events.KindRequestStart, map[string]any{
		"request_id": requestID,
		"user":       userID,
	})
	defer func() {
		e.publish(events.KindRequestComplete, map[string]any{
			"request_id":  requestID,
			"user":        userID,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	if e.cfg.Engine.DeveloperModeDefault && !e.sessions.DeveloperMode(userID) {
		e.sessions.SetDeveloperMode(userID, true)
	}

	if isCommand(text) {
		logger.Debug("command short-circuit", "text", text)
		return e.handleCommand(ctx, userID, text)
	}

	systemPrompt := e.systemPrompt(userID)

	messages := []llm.Message{{Role: "system", Content: systemPrompt}}
	for _, m := range e.sessions.History(userID, e.historyWindow()) {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})

	e.sessions.Append(userID, "user", text)

	var content string
	if e.cfg.Backend == config.BackendAssistants {
		content = e.converseAssistants(ctx, logger, requestID, userID, systemPrompt, text)
	} else {
		content = e.converseLoop(ctx, logger, requestID, userID, messages)
	}

	e.sessions.Append(userID, "assistant", content)
	if content == fallbackReply {
		return []string{fallbackReply}
	}
	return chunk.Split(content, e.chunkSize())
}

// converseLoop drives the chat and responses backends: call the model
// with tools, execute any requested tool calls, feed the results back,
// and stop at the first tool-call-free response.
func (e *Engine) converseLoop(ctx context.Context, logger *slog.Logger, requestID, userID string, messages []llm.Message) string {
	schemas := e.tools.Schemas()
	iterations := 0

	for iterations < e.maxToolIterations() {
		iterations++

		e.publish(events.KindLLMCall, map[string]any{
			"request_id": requestID,
			"iteration":  iterations,
			"messages":   len(messages),
		})
		out, err := e.client.Chat(ctx, messages, schemas)
		if err != nil {
			logger.Error("LLM call failed", "iteration", iterations, "error", err)
			return fallbackReply
		}
		e.publish(events.KindLLMResponse, map[string]any{
			"request_id": requestID,
			"iteration":  iterations,
			"tool_calls": len(out.ToolCalls),
			"empty":      out.Empty,
		})
		e.record(ctx, requestID, userID, out, iterations)

		if out.Empty {
			break
		}

		if len(out.ToolCalls) == 0 {
			content := out.Content
			if content == "" {
				content = "(no content)"
			}
			return content
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   out.Content,
			ToolCalls: out.ToolCalls,
		})
		for _, call := range out.ToolCalls {
			logger.Info("model requested tool", "tool", call.Name)
			result := e.tools.Call(ctx, call.Name, call.Arguments)
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    encodeToolResult(result),
			})
		}
	}

	logger.Warn("tool loop exhausted without final message", "iterations", iterations)
	return fallbackReply
}

// converseAssistants delegates to the assistant/run backend, which
// owns its own tool loop via requires_action.
func (e *Engine) converseAssistants(ctx context.Context, logger *slog.Logger, requestID, userID, systemPrompt, text string) string {
	exec := func(ctx context.Context, name, argsJSON string) string {
		logger.Info("model requested tool", "tool", name)
		return encodeToolResult(e.tools.Call(ctx, name, argsJSON))
	}

	e.publish(events.KindLLMCall, map[string]any{
		"request_id": requestID,
		"backend":    config.BackendAssistants,
	})
	content, err := e.assist.Complete(ctx, userID, systemPrompt, text, e.tools.Schemas(), exec)
	if err != nil {
		logger.Error("assistants backend failed", "error", err)
		return fallbackReply
	}
	e.publish(events.KindLLMResponse, map[string]any{
		"request_id": requestID,
		"backend":    config.BackendAssistants,
	})
	e.record(ctx, requestID, userID, &llm.Output{Model: e.cfg.OpenAI.Model}, 1)

	if content == "" {
		return "(no content)"
	}
	return content
}

func (e *Engine) systemPrompt(userID string) string {
	prompt := e.cfg.Engine.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	if e.sessions.DeveloperMode(userID) {
		prompt += developerSuffix
	}
	return prompt
}

func (e *Engine) historyWindow() int {
	if e.cfg.Engine.HistoryWindow > 0 {
		return e.cfg.Engine.HistoryWindow
	}
	return 10
}

func (e *Engine) maxToolIterations() int {
	if e.cfg.Engine.MaxToolIterations > 0 {
		return e.cfg.Engine.MaxToolIterations
	}
	return 4
}

func (e *Engine) chunkSize() int {
	if e.cfg.Engine.ChunkSize > 0 {
		return e.cfg.Engine.ChunkSize
	}
	return chunk.DefaultSize
}

func (e *Engine) publish(kind string, data map[string]any) {
	e.bus.Publish(events.Event{Source: events.SourceEngine, Kind: kind, Data: data})
}

// record persists one usage row per model call, best-effort.
func (e *Engine) record(ctx context.Context, requestID, userID string, out *llm.Output, iteration int) {
	if e.usage == nil {
		return
	}
	err := e.usage.Record(ctx, usage.Record{
		RequestID:    requestID,
		UserID:       userID,
		Backend:      e.cfg.Backend,
		Model:        out.Model,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Iterations:   iteration,
	})
	if err != nil {
		e.logger.Warn("usage record failed", "error", err)
	}
}

// encodeToolResult renders a tool result as the JSON string the model
// sees, truncated so one verbose tool cannot flood the context window.
func encodeToolResult(result tools.Result) string {
	b, err := json.Marshal(result)
	if err != nil {
		return `{"ok":false,"error":"unencodable tool result"}`
	}
	s := string(b)
	if len(s) > toolResultCap {
		cut := toolResultCap
		// Keep the cut on a rune boundary.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
