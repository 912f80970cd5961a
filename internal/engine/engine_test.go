package engine

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/yishaik/wotbot/internal/config"
	"github.com/yishaik/wotbot/internal/llm"
	"github.com/yishaik/wotbot/internal/session"
	"github.com/yishaik/wotbot/internal/tools"
)

// scriptedLLM returns its outputs in order and records every request.
type scriptedLLM struct {
	script []*llm.Output
	calls  [][]llm.Message
}

func (s *scriptedLLM) Chat(_ context.Context, messages []llm.Message, _ []map[string]any) (*llm.Output, error) {
	s.calls = append(s.calls, messages)
	if len(s.script) == 0 {
		return &llm.Output{Empty: true}, nil
	}
	out := s.script[0]
	s.script = s.script[1:]
	return out, nil
}

func newTestEngine(t *testing.T, client llm.Client) (*Engine, *session.Store, *tools.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = config.BackendChat
	cfg.AdminIDs = []string{"+15550001"}
	sessions := session.NewStore()
	reg := tools.NewRegistry(tools.Deps{})
	e := New(Options{
		Config:   cfg,
		Sessions: sessions,
		Tools:    reg,
		Client:   client,
	})
	return e, sessions, reg
}

func TestConverseDirectAnswer(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{{Content: "Hello there"}}}
	e, sessions, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "hi")
	if len(replies) != 1 || replies[0] != "Hello there" {
		t.Fatalf("replies = %#v", replies)
	}

	hist := sessions.History("u1", 10)
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[0].Content != "hi" {
		t.Errorf("hist[0] = %+v", hist[0])
	}
	if hist[1].Role != "assistant" || hist[1].Content != "Hello there" {
		t.Errorf("hist[1] = %+v", hist[1])
	}
}

func TestConverseToolCallThenAnswer(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_system_status", Arguments: "{}"}}},
		{Content: "All done"},
	}}
	e, _, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "check the system")
	if len(replies) != 1 || replies[0] != "All done" {
		t.Fatalf("replies = %#v", replies)
	}
	if len(mock.calls) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(mock.calls))
	}

	// Second call must carry the assistant tool_calls message and the
	// tool result keyed by the call ID.
	second := mock.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("last message = %+v", last)
	}
	prev := second[len(second)-2]
	if prev.Role != "assistant" || len(prev.ToolCalls) != 1 {
		t.Errorf("assistant tool message = %+v", prev)
	}
}

func TestConverseIterationCapExhausted(t *testing.T) {
	loop := &llm.Output{ToolCalls: []llm.ToolCall{{ID: "c", Name: "get_system_status", Arguments: "{}"}}}
	mock := &scriptedLLM{script: []*llm.Output{loop, loop, loop, loop, loop, loop}}
	e, sessions, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "loop forever")
	if len(replies) != 1 || replies[0] != fallbackReply {
		t.Fatalf("replies = %#v", replies)
	}
	if len(mock.calls) != 4 {
		t.Errorf("LLM calls = %d, want 4 (iteration cap)", len(mock.calls))
	}

	hist := sessions.History("u1", 10)
	if hist[len(hist)-1].Content != fallbackReply {
		t.Errorf("fallback not stored in session: %+v", hist)
	}
}

func TestConverseEmptyOutputFallsBack(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{{Empty: true}}}
	e, _, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "hello")
	if len(replies) != 1 || replies[0] != fallbackReply {
		t.Fatalf("replies = %#v", replies)
	}
	if len(mock.calls) != 1 {
		t.Errorf("LLM calls = %d, want 1", len(mock.calls))
	}
}

func TestConverseBlankContentBecomesPlaceholder(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{{Content: ""}}}
	e, _, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "hello")
	if len(replies) != 1 || replies[0] != "(no content)" {
		t.Fatalf("replies = %#v", replies)
	}
}

func TestConverseChunksLongReply(t *testing.T) {
	long := strings.Repeat("line of output\n", 300) // ~4500 chars
	mock := &scriptedLLM{script: []*llm.Output{{Content: long}}}
	e, _, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "dump it")
	if len(replies) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(replies))
	}
	for i, r := range replies {
		if len(r) > 1200 {
			t.Errorf("chunk %d length %d exceeds 1200", i, len(r))
		}
	}
}

func TestConverseSystemPromptAndHistoryWindow(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{{Content: "ok"}}}
	e, sessions, _ := newTestEngine(t, mock)

	for i := 0; i < 15; i++ {
		sessions.Append("u1", "user", "old")
		sessions.Append("u1", "assistant", "old reply")
	}

	e.Converse(context.Background(), "u1", "newest")
	msgs := mock.calls[0]
	if msgs[0].Role != "system" || !strings.HasPrefix(msgs[0].Content, "You are WotBot") {
		t.Errorf("system message = %+v", msgs[0])
	}
	// system + 10 history + current user message
	if len(msgs) != 12 {
		t.Errorf("message count = %d, want 12", len(msgs))
	}
	if msgs[len(msgs)-1].Content != "newest" {
		t.Errorf("last message = %+v", msgs[len(msgs)-1])
	}
}

func TestConverseDeveloperModeSuffix(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{{Content: "ok"}}}
	e, sessions, _ := newTestEngine(t, mock)
	sessions.SetDeveloperMode("u1", true)

	e.Converse(context.Background(), "u1", "hi")
	if !strings.Contains(mock.calls[0][0].Content, "Developer mode is ON") {
		t.Errorf("system prompt missing developer suffix: %q", mock.calls[0][0].Content)
	}
}

func TestCommandShortCircuit(t *testing.T) {
	mock := &scriptedLLM{}
	e, sessions, _ := newTestEngine(t, mock)

	replies := e.Converse(context.Background(), "u1", "/mode dev")
	if len(replies) != 1 || replies[0] != "Developer mode ON" {
		t.Fatalf("replies = %#v", replies)
	}
	if len(mock.calls) != 0 {
		t.Errorf("command reached the LLM: %d calls", len(mock.calls))
	}
	if !sessions.DeveloperMode("u1") {
		t.Error("developer mode not enabled")
	}
	if hist := sessions.History("u1", 10); len(hist) != 0 {
		t.Errorf("commands must not touch session history: %+v", hist)
	}
}

func TestCommandHelpAndTools(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptedLLM{})

	replies := e.Converse(context.Background(), "u1", "/help")
	if len(replies) != 1 || !strings.Contains(replies[0], "/mode dev|normal") {
		t.Errorf("help = %#v", replies)
	}

	replies = e.Converse(context.Background(), "u1", "/tools")
	want := "Tools available: run_code, http_request, mcp_call, get_system_status, read_log, read_config, restart_self"
	if len(replies) != 1 || replies[0] != want {
		t.Errorf("tools = %#v", replies)
	}
}

func TestCommandModeVariants(t *testing.T) {
	e, sessions, _ := newTestEngine(t, &scriptedLLM{})
	ctx := context.Background()

	if got := e.Converse(ctx, "u1", "/mode developer"); got[0] != "Developer mode ON" {
		t.Errorf("developer: %#v", got)
	}
	if got := e.Converse(ctx, "u1", "/mode normal"); got[0] != "Developer mode OFF" {
		t.Errorf("normal: %#v", got)
	}
	if sessions.DeveloperMode("u1") {
		t.Error("developer mode still on")
	}
	if got := e.Converse(ctx, "u1", "/mode"); got[0] != "Usage: /mode dev|normal" {
		t.Errorf("usage: %#v", got)
	}
}

func TestCommandAdminGate(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptedLLM{})
	ctx := context.Background()

	for _, cmd := range []string{"/restart_bot", "/admin/status", "/admin/restart"} {
		got := e.Converse(ctx, "u2", cmd)
		if len(got) != 1 || got[0] != "Not authorized." {
			t.Errorf("%s as non-admin = %#v", cmd, got)
		}
	}

	// Admin restart without a configured restarter reports failure
	// in-band rather than pretending to schedule one.
	got := e.Converse(ctx, "+15550001", "/restart_bot")
	if len(got) != 1 || got[0] != "Failed to restart" {
		t.Errorf("admin restart = %#v", got)
	}
}

func TestCommandUnknown(t *testing.T) {
	e, _, _ := newTestEngine(t, &scriptedLLM{})

	got := e.Converse(context.Background(), "u1", "/bogus")
	if len(got) != 1 || got[0] != "Unknown command. Try /help" {
		t.Errorf("unknown = %#v", got)
	}
}

func TestEncodeToolResultRuneSafeTruncation(t *testing.T) {
	res := tools.Result{"ok": true, "data": strings.Repeat("日", 2000)}
	s := encodeToolResult(res)
	if len(s) > toolResultCap {
		t.Errorf("length = %d, want <= %d", len(s), toolResultCap)
	}
	if !utf8.ValidString(s) {
		t.Error("truncated result is not valid UTF-8")
	}
}

func TestConverseDeveloperModeDefault(t *testing.T) {
	mock := &scriptedLLM{script: []*llm.Output{{Content: "ok"}}}
	e, sessions, _ := newTestEngine(t, mock)
	e.cfg.Engine.DeveloperModeDefault = true

	e.Converse(context.Background(), "u1", "hi")
	if !sessions.DeveloperMode("u1") {
		t.Error("developer mode default not applied")
	}
}
